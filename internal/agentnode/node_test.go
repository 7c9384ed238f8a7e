package agentnode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/bus"
	"fractal/internal/config"
	"fractal/internal/memory"
	"fractal/internal/ports"
	"fractal/internal/task"
	"fractal/internal/tool"
)

func newTestNode(t *testing.T, llm *ports.FakeLLM, cfg config.AgentConfig) (*Node, *tool.Registry) {
	t.Helper()
	reg := tool.NewRegistry(nil)
	reg.Register(tool.Tool{
		Name: "get_weather", IsReadonly: true,
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) { return "sunny", nil, nil },
	})
	exec := tool.NewExecutor(reg)
	mem := memory.NewManager()
	b := bus.New()
	return New("agent-a", cfg, llm, mem, reg, exec, b), reg
}

func TestS1OneShotReply(t *testing.T) {
	llm := ports.NewFakeLLM(ports.FakeScenario{
		Match:    func(req ports.ChatRequest) bool { return true },
		Response: ports.ChatResponse{Content: "4"},
	})
	node, _ := newTestNode(t, llm, config.New(nil, nil, config.DefaultLimits()))

	tk := task.New(task.ActionExecute, map[string]any{"content": "2+2"}, "user", "agent-a")
	result := node.ExecuteTask(context.Background(), tk)

	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Equal(t, "4", result.Result)
	assert.Equal(t, 1, llm.Calls())
}

func TestS5IterationLimitFailsTask(t *testing.T) {
	llm := ports.NewFakeLLM(ports.FakeScenario{
		Match: func(req ports.ChatRequest) bool { return true },
		Response: ports.ChatResponse{
			ToolCalls: []ports.ToolCall{{ID: "c1", Name: "get_weather", Arguments: map[string]any{}}},
		},
	})
	cfg := config.New(nil, []string{"get_weather"}, config.DefaultLimits())
	cfg.MaxIterations = 3
	node, _ := newTestNode(t, llm, cfg)

	tk := task.New(task.ActionExecute, map[string]any{"content": "loop forever"}, "user", "agent-a")
	result := node.ExecuteTask(context.Background(), tk)

	require.Equal(t, task.StatusFailed, result.Status)
	assert.Equal(t, "iteration_limit", result.ErrorKind)
	assert.Equal(t, 3, llm.Calls())
}

func TestVisibleToolsIncludesMandatoryToolsEvenWhenNotEnabled(t *testing.T) {
	llm := ports.NewFakeLLM()
	node, reg := newTestNode(t, llm, config.New(nil, nil, config.DefaultLimits()))
	reg.Register(tool.Tool{Name: "delegate_task", IsReadonly: false,
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) { return "", nil, nil }})

	names := map[string]bool{}
	for _, tl := range node.VisibleTools() {
		names[tl.Name] = true
	}
	assert.True(t, names["delegate_task"])
}
