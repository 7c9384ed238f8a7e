// Package agentnode implements the Agent Node (C6): the ReAct loop that
// drives one LLM through reasoning, tool acting, and observing until a
// terminal answer, bounded by iteration and cancellation.
package agentnode

import (
	"context"
	"fmt"

	"fractal/internal/assembler"
	"fractal/internal/bus"
	"fractal/internal/config"
	fracerrors "fractal/internal/errors"
	"fractal/internal/logging"
	"fractal/internal/memory"
	"fractal/internal/ports"
	"fractal/internal/task"
	"fractal/internal/telemetry"
	"fractal/internal/tool"

	"go.opentelemetry.io/otel/trace"
)

// mandatoryTools are always visible regardless of AgentConfig.EnabledTools,
// per spec §4.6: "every agent is provided delegate_task, query_l2_memory,
// query_l3_memory, search_l4_memory, and create_tool (if sandboxed)".
var mandatoryTools = []string{"delegate_task", "query_l2_memory", "query_l3_memory", "search_l4_memory"}

// Node is one agent: an LLM-driven ReAct loop with its own memory,
// sharing the bus, tool registry, and ports with the rest of the run.
type Node struct {
	ID     string
	Config config.AgentConfig

	LLM      ports.LLMPort
	Sandbox  ports.SandboxPort // optional; enables create_tool visibility
	Memory   *memory.Manager
	Registry *tool.Registry
	Executor *tool.Executor
	Bus      bus.Bus

	SystemPrompt         string
	CriticalInstructions string
	OutputFormat         string

	log        logging.Logger
	llmBreaker *fracerrors.CircuitBreaker
}

// Option configures a Node at construction.
type Option func(*Node)

func WithLogger(l logging.Logger) Option { return func(n *Node) { n.log = logging.OrNop(l) } }

// New constructs a Node. Memory, Registry, Executor, Bus, and LLM are
// required; Sandbox is optional.
func New(id string, cfg config.AgentConfig, llm ports.LLMPort, mem *memory.Manager, reg *tool.Registry, exec *tool.Executor, b bus.Bus, opts ...Option) *Node {
	n := &Node{
		ID: id, Config: cfg, LLM: llm, Memory: mem, Registry: reg, Executor: exec, Bus: b,
		log:        logging.Nop,
		llmBreaker: fracerrors.NewCircuitBreaker("llm:"+id, fracerrors.DefaultCircuitBreakerConfig()),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// VisibleTools returns the tools this node's LLM sees this iteration:
// the AgentConfig-enabled subset plus the mandatory memory/delegation
// tools, plus create_tool when a sandbox port is configured.
func (n *Node) VisibleTools() []tool.Tool {
	allowed := make(map[string]struct{}, len(n.Config.EnabledTools)+len(mandatoryTools)+1)
	for name := range n.Config.EnabledTools {
		allowed[name] = struct{}{}
	}
	for _, name := range mandatoryTools {
		if _, ok := n.Registry.Get(name); ok {
			allowed[name] = struct{}{}
		}
	}
	if n.Sandbox != nil {
		if _, ok := n.Registry.Get("create_tool"); ok {
			allowed["create_tool"] = struct{}{}
		}
	}
	return n.Registry.VisibleFor(allowed)
}

func toolDefinitions(tools []tool.Tool) []ports.ToolDefinition {
	out := make([]ports.ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = ports.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Schema}
	}
	return out
}

// cancelled reports whether a cancel task targeting t has been published
// to the bus, consulted at iteration boundaries per spec §4.6/§5.
func (n *Node) cancelled(t *task.Task) bool {
	if n.Bus == nil {
		return false
	}
	for _, c := range n.Bus.QueryByAction(task.ActionCancel, 0) {
		snap := c.Snapshot()
		if snap.Parameters["task_id"] == t.TaskID {
			return true
		}
	}
	return false
}

// ExecuteTask runs the ReAct loop for t to completion: bounded by
// Config.MaxIterations, cooperative cancellation at iteration boundaries
// and after each tool batch, memory recording of every call/observation,
// and tier promotion at loop exit (spec §4.6).
func (n *Node) ExecuteTask(ctx context.Context, t *task.Task) *task.Task {
	if n.Memory != nil {
		n.Memory.Record(describeTask(t), memory.UnitTask, t.Importance(), t.SessionID, nil)
	}
	n.emit(ctx, t, task.ActionNodeStart, nil)

	iteration := 0
	tools := n.VisibleTools()
	toolDefs := toolDefinitions(tools)

	for {
		if n.cancelled(t) {
			t.Cancel()
			n.emit(ctx, t, task.ActionNodeError, map[string]any{"reason": "cancelled"})
			break
		}
		if iteration >= n.Config.MaxIterations {
			t.Fail("iteration_limit", fmt.Sprintf("exceeded max_iterations=%d", n.Config.MaxIterations))
			n.emit(ctx, t, task.ActionNodeError, map[string]any{"reason": "iteration_limit"})
			break
		}
		iteration++

		iterCtx, iterSpan := telemetry.StartIteration(ctx, n.ID, t.TaskID, iteration)

		messages, err := assembler.Build(iterCtx, assembler.Options{
			CriticalInstructions: n.CriticalInstructions,
			RoleSystemPrompt:     n.SystemPrompt,
			OutputFormat:         n.OutputFormat,
			Task:                 t,
			Memory:               n.Memory,
			MemoryQuery:          describeTask(t),
			Bus:                  n.Bus,
			AgentID:              n.ID,
			Budget:               n.Config.ContextBudget,
		})
		if err != nil {
			t.Fail("context_overflow", err.Error())
			n.emit(ctx, t, task.ActionNodeError, map[string]any{"reason": "context_overflow"})
			telemetry.End(iterSpan, err)
			break
		}

		resp, err := n.chat(iterCtx, messages, toolDefs)
		if err != nil {
			t.Fail("llm_error", err.Error())
			n.emit(ctx, t, task.ActionNodeError, map[string]any{"reason": "llm_error"})
			telemetry.End(iterSpan, err)
			break
		}

		n.emit(ctx, t, task.ActionNodeThinking, map[string]any{"reasoning": resp.Reasoning})

		if len(resp.ToolCalls) == 0 {
			t.Complete(resp.Content)
			n.emit(ctx, t, task.ActionNodeComplete, map[string]any{"result": resp.Content})
			telemetry.End(iterSpan, nil)
			break
		}

		n.runToolBatch(iterCtx, t, resp.ToolCalls)
		telemetry.End(iterSpan, nil)

		if n.cancelled(t) {
			t.Cancel()
			n.emit(ctx, t, task.ActionNodeError, map[string]any{"reason": "cancelled"})
			break
		}
	}

	if n.Memory != nil {
		n.Memory.PromoteTiers(ctx)
	}
	return t
}

// chat wraps the LLM port with one retry on transient failure, per
// spec §7's "LLM errors within one iteration are retried once with
// exponential backoff", behind a per-node circuit breaker so a
// persistently failing provider stops eating a full retry budget on
// every subsequent iteration.
func (n *Node) chat(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (*ports.ChatResponse, error) {
	ctx, span := telemetry.StartLLMChat(ctx, n.ID)
	cfg := fracerrors.DefaultRetryConfig()
	cfg.MaxAttempts = 1
	resp, err := fracerrors.ExecuteFunc(n.llmBreaker, ctx, func(ctx context.Context) (*ports.ChatResponse, error) {
		return fracerrors.RetryWithResultAndLog(ctx, cfg, func(ctx context.Context) (*ports.ChatResponse, error) {
			return n.LLM.Chat(ctx, ports.ChatRequest{Messages: messages, Tools: tools, Temperature: n.Config.Strategy.Temperature})
		}, n.log)
	})
	telemetry.End(span, err)
	return resp, err
}

// runToolBatch executes one iteration's tool calls via the shared
// executor (applying the §4.3 batch-scheduling algorithm), emitting
// node.tool_call/node.tool_result events and recording each call and
// its observation into memory, in original call order regardless of
// completion order.
func (n *Node) runToolBatch(ctx context.Context, t *task.Task, calls []ports.ToolCall) {
	ctx = WithAgentID(ctx, n.ID)
	ctx = WithTaskID(ctx, t.TaskID)
	toolCalls := make([]tool.Call, len(calls))
	spans := make([]trace.Span, len(calls))
	for i, c := range calls {
		toolCalls[i] = tool.Call{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		_, spans[i] = telemetry.StartToolExec(ctx, c.Name)
		n.emit(ctx, t, task.ActionNodeToolCall, map[string]any{"call_id": c.ID, "name": c.Name, "arguments": c.Arguments})
	}

	results := n.Executor.RunBatch(ctx, toolCalls)

	for i, r := range results {
		var execErr error
		if !r.OK {
			execErr = fmt.Errorf("%s: %s", r.ErrorKind, r.ErrorDetail)
		}
		telemetry.End(spans[i], execErr)
		n.emit(ctx, t, task.ActionNodeToolResult, map[string]any{
			"call_id": r.CallID, "ok": r.OK, "value": r.Value, "error_kind": r.ErrorKind,
		})
		if n.Memory != nil {
			n.Memory.Record(fmt.Sprintf("call %s(%v) -> %s", toolCalls[i].Name, toolCalls[i].Arguments, observationText(r)), memory.UnitTask, 0.4, t.SessionID, nil)
		}
	}
}

func observationText(r tool.Result) string {
	if r.OK {
		return r.Value
	}
	return r.ErrorKind + ": " + r.ErrorDetail
}

func describeTask(t *task.Task) string {
	snap := t.Snapshot()
	if content, ok := snap.Parameters["content"].(string); ok && content != "" {
		return content
	}
	return string(snap.Action)
}

// emit publishes a node.* lifecycle event to the bus with
// waitResult=false (fire-and-forget); nothing awaits these, so publish
// errors are not surfaced to the loop. The event reaches Subscribe
// observers only when a primary handler is registered for its action.
func (n *Node) emit(ctx context.Context, parent *task.Task, action task.Action, params map[string]any) {
	if n.Bus == nil {
		return
	}
	snap := parent.Snapshot()
	if params == nil {
		params = map[string]any{}
	}
	params["parent_task_id"] = snap.TaskID
	ev := task.New(action, params, n.ID, "")
	ev.SessionID = snap.SessionID
	ev.ParentTaskID = snap.TaskID
	_, _ = n.Bus.Publish(ctx, ev, false)
}
