package embedderkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/task"
)

func TestNewWiresAFakeLLMRuntimeEndToEnd(t *testing.T) {
	rt, err := New(context.Background(), Options{FakeLLM: true, ServiceName: "embedderkit-test"})
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	final := rt.RunTask(context.Background(), "root", "say hello")
	snap := final.Snapshot()

	assert.Equal(t, task.StatusCompleted, snap.Status)
	assert.Equal(t, "Mock LLM response", snap.Result)
}

func TestSubscribeReceivesNodeLifecycleEvents(t *testing.T) {
	rt, err := New(context.Background(), Options{FakeLLM: true, ServiceName: "embedderkit-test"})
	require.NoError(t, err)
	defer rt.Shutdown(context.Background())

	seen := make(chan task.Action, 16)
	rt.Subscribe(func(ctx context.Context, t *task.Task) {
		seen <- t.Snapshot().Action
	})

	rt.RunTask(context.Background(), "root2", "say hello again")

	select {
	case action := <-seen:
		assert.Contains(t, nodeLifecycleActions, action)
	default:
		t.Fatal("expected at least one node lifecycle event to be observed")
	}
}
