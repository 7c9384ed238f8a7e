package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/agentnode"
	"fractal/internal/bus"
	"fractal/internal/config"
	"fractal/internal/memory"
	"fractal/internal/ports"
	"fractal/internal/task"
	"fractal/internal/tool"
)

func newHarness(t *testing.T) (*bus.InProcessBus, *tool.Registry, config.AgentConfig) {
	t.Helper()
	b := bus.New()
	reg := tool.NewRegistry(nil)
	cfg := config.New(nil, []string{"delegate_task"}, config.DefaultLimits())
	cfg.MaxDepth = 3
	cfg.MaxChildren = 5
	return b, reg, cfg
}

func TestS4DelegationSpawnsChildAndReturnsResult(t *testing.T) {
	b, reg, cfg := newHarness(t)

	childFactory := func(childID string, childCfg config.AgentConfig, projection memory.Projection) *agentnode.Node {
		llm := ports.NewFakeLLM(ports.FakeScenario{
			Match:    func(req ports.ChatRequest) bool { return true },
			Response: ports.ChatResponse{Content: "summary of the README"},
		})
		mem := memory.NewManager()
		mem.SeedProjection("", projection)
		exec := tool.NewExecutor(reg)
		return agentnode.New(childID, childCfg, llm, mem, reg, exec, b)
	}

	New(b, reg, childFactory)

	parentTask := task.New(task.ActionExecute, map[string]any{"content": "root"}, "user", "agent-a")
	handler := DelegateToolHandler(b, "agent-b", parentTask.TaskID, cfg, memory.NewManager())

	result, _, err := handler(context.Background(), map[string]any{"subtask_description": "summarise the project README"})
	require.NoError(t, err)
	assert.Equal(t, "summary of the README", result)
}

func TestDepthLimitRejectsDeepDelegation(t *testing.T) {
	b, reg, cfg := newHarness(t)
	cfg.MaxDepth = 1 // root is depth 0; first delegation would be depth 1 == max_depth, rejected

	childFactory := func(childID string, childCfg config.AgentConfig, projection memory.Projection) *agentnode.Node {
		llm := ports.NewFakeLLM()
		return agentnode.New(childID, childCfg, llm, memory.NewManager(), reg, tool.NewExecutor(reg), b)
	}
	New(b, reg, childFactory)

	parentTask := task.New(task.ActionExecute, map[string]any{"content": "root"}, "user", "agent-a")
	handler := DelegateToolHandler(b, "agent-b", parentTask.TaskID, cfg, memory.NewManager())

	_, _, err := handler(context.Background(), map[string]any{"subtask_description": "go deeper"})
	require.Error(t, err)
}

func TestSynthesizeConcatenatesByDefault(t *testing.T) {
	o := &Orchestrator{SynthMode: SynthesisConcatenate}
	out, err := o.Synthesize(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb", out)
}
