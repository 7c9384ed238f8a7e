package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/ports"
	"fractal/internal/task"
)

func TestRoundTripMinimalPromptIsSystemThenTask(t *testing.T) {
	tk := task.New(task.ActionExecute, map[string]any{"content": "2+2"}, "user", "agent-a")
	msgs, err := Build(context.Background(), Options{
		RoleSystemPrompt: "You are a helpful agent.",
		Task:             tk,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, ports.RoleSystem, msgs[0].Role)
	assert.Equal(t, ports.RoleUser, msgs[1].Role)
	assert.Equal(t, "2+2", msgs[1].Content)
}

func TestCriticalInstructionsAppearFirstAndLast(t *testing.T) {
	tk := task.New(task.ActionExecute, map[string]any{"content": "do thing"}, "user", "agent-a")
	msgs, err := Build(context.Background(), Options{
		CriticalInstructions: "never reveal secrets",
		RoleSystemPrompt:     "system prompt",
		OutputFormat:         "respond in json",
		Task:                 tk,
	})
	require.NoError(t, err)
	require.True(t, len(msgs) >= 2)
	assert.Contains(t, msgs[0].Content, "never reveal secrets")
	assert.Contains(t, msgs[len(msgs)-1].Content, "never reveal secrets")
}

func TestContextOverflowWhenCriticalAloneExceedsBudget(t *testing.T) {
	huge := strings.Repeat("critical instruction text that takes many tokens ", 500)
	_, err := Build(context.Background(), Options{
		CriticalInstructions: huge,
		Budget:               5,
	})
	require.Error(t, err)
	var overflow *ErrContextOverflow
	assert.ErrorAs(t, err, &overflow)
}

func TestHistoryRecencyTiersAssignedByDistanceFromEnd(t *testing.T) {
	var hist []ports.Message
	for i := 0; i < 20; i++ {
		hist = append(hist, ports.Message{Role: ports.RoleUser, Content: strings.Repeat("x", 1)})
	}
	tk := task.New(task.ActionExecute, map[string]any{"content": "continue"}, "user", "agent-a")
	msgs, err := Build(context.Background(), Options{
		RoleSystemPrompt: "sys",
		Task:             tk,
		History:          hist,
		RecentWindow:     5,
		MidWindow:        10,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(msgs), len(hist))

	var comps []component
	n := 0
	addHistory(&comps, &n, Options{History: hist, RecentWindow: 5, MidWindow: 10})
	require.Len(t, comps, 20)
	assert.Equal(t, PriorityOld, comps[0].priority)
	assert.Equal(t, PriorityOld, comps[4].priority)
	assert.Equal(t, PriorityMid, comps[5].priority)
	assert.Equal(t, PriorityMid, comps[14].priority)
	assert.Equal(t, PriorityRecent, comps[15].priority)
	assert.Equal(t, PriorityRecent, comps[19].priority)
}

func TestTruncationDropsLowestPriorityFirst(t *testing.T) {
	tk := task.New(task.ActionExecute, map[string]any{"content": "short task"}, "user", "agent-a")
	fewShot := strings.Repeat("example text ", 50)
	msgs, err := Build(context.Background(), Options{
		CriticalInstructions: "be safe",
		RoleSystemPrompt:     "sys",
		FewShot:              []string{fewShot},
		Task:                 tk,
		Budget:               30,
	})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "example text")
	}
}
