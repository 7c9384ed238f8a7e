package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/task"
)

func TestPublishWaitResultReturnsTerminalStatus(t *testing.T) {
	b := New()
	b.RegisterHandler(task.ActionExecute, func(ctx context.Context, tk *task.Task) error {
		tk.Complete("ok")
		return nil
	})

	tk := task.New(task.ActionExecute, nil, "embedder", "")
	result, err := b.Publish(context.Background(), tk, true)
	require.NoError(t, err)
	assert.True(t, result.Status.IsTerminal())
	assert.Equal(t, task.StatusCompleted, result.Status)
}

func TestPublishNoHandlerFails(t *testing.T) {
	b := New()
	tk := task.New(task.ActionQuery, nil, "embedder", "")
	result, err := b.Publish(context.Background(), tk, true)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, result.Status)
	assert.Equal(t, "no_handler", result.ErrorKind)
}

func TestPublishAsyncReturnsRunningImmediately(t *testing.T) {
	b := New()
	release := make(chan struct{})
	b.RegisterHandler(task.ActionExecute, func(ctx context.Context, tk *task.Task) error {
		<-release
		tk.Complete("done")
		return nil
	})

	tk := task.New(task.ActionExecute, nil, "embedder", "")
	result, err := b.Publish(context.Background(), tk, false)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, result.Status)
	close(release)
}

func TestHistoryBoundedAndIndexUpdatedOnOverflow(t *testing.T) {
	b := New(WithHistoryCapacity(3))
	b.RegisterHandler(task.ActionExecute, func(ctx context.Context, tk *task.Task) error {
		tk.Complete("ok")
		return nil
	})

	var first *task.Task
	for i := 0; i < 5; i++ {
		tk := task.New(task.ActionExecute, nil, "agent-a", "")
		if i == 0 {
			first = tk
		}
		_, _ = b.Publish(context.Background(), tk, true)
	}

	assert.Len(t, b.History(), 3)
	bySource := b.QueryBySource("agent-a", 0)
	for _, tk := range bySource {
		assert.NotEqual(t, first.TaskID, tk.TaskID)
	}
}

func TestQueryByTargetOrdersByPriorityThenRecencyAndFiltersExpiredTTL(t *testing.T) {
	b := New()
	b.RegisterHandler(task.ActionNodeMessage, func(ctx context.Context, tk *task.Task) error {
		tk.Complete(nil)
		return nil
	})

	low := task.New(task.ActionNodeMessage, map[string]any{"content": "low", "priority": 0.2}, "a", "b")
	high := task.New(task.ActionNodeMessage, map[string]any{"content": "high", "priority": 0.9}, "a", "b")
	expired := task.New(task.ActionNodeMessage, map[string]any{"content": "expired", "priority": 0.9, "ttl_seconds": -1.0}, "a", "b")

	for _, tk := range []*task.Task{low, high, expired} {
		_, _ = b.Publish(context.Background(), tk, true)
	}

	results := b.QueryByTarget("b", 10)
	require.Len(t, results, 2)
	assert.Equal(t, high.TaskID, results[0].TaskID)
	assert.Equal(t, low.TaskID, results[1].TaskID)
}

func TestDelegateTaskTimesOut(t *testing.T) {
	b := New()
	b.RegisterHandler(task.ActionNodeDelegationRequest, func(ctx context.Context, tk *task.Task) error {
		time.Sleep(50 * time.Millisecond)
		tk.Complete("late")
		return nil
	})

	subtask := task.New(task.ActionNodeDelegationRequest, map[string]any{"content": "do work"}, "parent", "")
	result, err := b.DelegateTask(context.Background(), "child", subtask, 5)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, result.Status)
	assert.Equal(t, "delegation_timeout", result.ErrorKind)
}

func TestDelegateTaskSucceeds(t *testing.T) {
	b := New()
	b.RegisterHandler(task.ActionNodeDelegationRequest, func(ctx context.Context, tk *task.Task) error {
		tk.Complete("child answer")
		return nil
	})

	subtask := task.New(task.ActionNodeDelegationRequest, map[string]any{"content": "summarise"}, "parent", "")
	result, err := b.DelegateTask(context.Background(), "child", subtask, 1000)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Equal(t, "child answer", result.Result)
}
