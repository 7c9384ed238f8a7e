package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownAction(t *testing.T) {
	assert.Panics(t, func() {
		New(Action("bogus"), nil, "a", "b")
	})
}

func TestLifecycleIsOneWay(t *testing.T) {
	tk := New(ActionExecute, map[string]any{"content": "2+2"}, "embedder", "")
	require.Equal(t, StatusPending, tk.Status)

	tk.MarkRunning()
	require.Equal(t, StatusRunning, tk.Status)

	tk.Complete("4")
	require.Equal(t, StatusCompleted, tk.Status)
	require.True(t, tk.Status.IsTerminal())

	// A second transition after terminal must be a no-op.
	tk.Fail("llm_error", "should not apply")
	assert.Equal(t, StatusCompleted, tk.Status)
	assert.Empty(t, tk.Error)
}

func TestSubtaskIDConvention(t *testing.T) {
	parent := New(ActionExecute, nil, "agent-a", "")
	child := NewSubtask(parent, 1, ActionExecute, map[string]any{"content": "child work"}, "agent-a", "agent-b")
	assert.Equal(t, parent.TaskID+":subtask-1", child.TaskID)
	assert.Equal(t, parent.TaskID, child.ParentTaskID)
}

func TestCloudEventRoundTrip(t *testing.T) {
	original := New(ActionNodeMessage, map[string]any{
		"content":  "Please focus on the DB migration.",
		"priority": 0.8,
	}, "agent-a", "agent-b")
	original.SessionID = "session-1"
	original.MarkRunning()
	original.Complete("ack")

	ev := original.ToCloudEvent("node://agent-a", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")
	assert.Equal(t, "1.0", ev.SpecVersion)
	assert.Equal(t, string(ActionNodeMessage), ev.Type)

	restored := FromCloudEvent(ev)
	assert.Equal(t, original.TaskID, restored.TaskID)
	assert.Equal(t, original.SourceAgent, restored.SourceAgent)
	assert.Equal(t, original.TargetAgent, restored.TargetAgent)
	assert.Equal(t, original.Action, restored.Action)
	assert.Equal(t, original.Status, restored.Status)
	assert.Equal(t, original.Result, restored.Result)
	assert.Equal(t, original.SessionID, restored.SessionID)
	assert.Equal(t, original.Parameters["content"], restored.Parameters["content"])
}

func TestImportanceDefault(t *testing.T) {
	tk := New(ActionExecute, nil, "a", "")
	assert.InDelta(t, 0.5, tk.Importance(), 1e-9)

	tk2 := New(ActionExecute, nil, "a", "")
	tk2.Metadata["importance"] = 0.9
	assert.InDelta(t, 0.9, tk2.Importance(), 1e-9)
}
