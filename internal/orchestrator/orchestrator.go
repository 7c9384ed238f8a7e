// Package orchestrator implements the Fractal Orchestrator (C7):
// delegation as a tool call, depth/children enforcement, child config
// derivation, context projection, and result synthesis.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fatih/color"

	"fractal/internal/agentnode"
	"fractal/internal/bus"
	"fractal/internal/config"
	"fractal/internal/logging"
	"fractal/internal/memory"
	"fractal/internal/task"
	"fractal/internal/telemetry"
	"fractal/internal/tool"
)

const defaultDelegationTimeoutMs = 60000

var fractalPrefix = color.New(color.FgMagenta, color.Bold).SprintFunc()

// SynthesisMode controls how Synthesize combines multiple parallel
// delegation results.
type SynthesisMode string

const (
	SynthesisConcatenate   SynthesisMode = "concatenate"
	SynthesisJSONMerge     SynthesisMode = "json_merge"
	SynthesisLLMNarrative  SynthesisMode = "llm_narrative"
)

// ChildFactory builds a new Node for a delegated subtask; supplied by the
// embedder so the orchestrator never hardcodes how a child obtains its
// LLM port, since that is typically the same port as the parent but
// could differ (cheaper model for shallow delegation, etc). projection
// is the parent's CreateProjection output (zero value when the request
// carries no parent memory) — the factory is expected to seed the child's own
// memory with it via memory.Manager.SeedProjection before returning.
type ChildFactory func(childID string, cfg config.AgentConfig, projection memory.Projection) *agentnode.Node

// Orchestrator owns depth/children bookkeeping and delegates subtasks by
// spawning child agent nodes. It registers itself as the bus's primary
// handler for node.delegation_request, tying directly into
// bus.DelegateTask.
type Orchestrator struct {
	Bus          bus.Bus
	Registry     *tool.Registry
	NewChild     ChildFactory
	SynthMode    SynthesisMode
	log          logging.Logger

	mu       sync.Mutex
	depth    map[string]int // task_id -> depth
	children map[string]int // task_id -> number of delegations issued so far
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithLogger(l logging.Logger) Option { return func(o *Orchestrator) { o.log = logging.OrNop(l) } }
func WithSynthesisMode(m SynthesisMode) Option {
	return func(o *Orchestrator) { o.SynthMode = m }
}

// New constructs an Orchestrator and registers it as the bus's primary
// handler for node.delegation_request.
func New(b bus.Bus, registry *tool.Registry, newChild ChildFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Bus: b, Registry: registry, NewChild: newChild,
		SynthMode: SynthesisConcatenate, log: logging.Nop,
		depth: make(map[string]int), children: make(map[string]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	b.RegisterHandler(task.ActionNodeDelegationRequest, o.handle)
	return o
}

// depthOf returns the delegation depth of parentTaskID: 0 for a root
// task never seen before, otherwise its recorded depth.
func (o *Orchestrator) depthOf(parentTaskID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.depth[parentTaskID]
}

// handle is the bus primary handler for node.delegation_request. It
// validates depth/children limits, derives the child config, builds the
// child's memory projection, instantiates and runs the child agent, and
// writes the result back onto the subtask.
func (o *Orchestrator) handle(ctx context.Context, subtask *task.Task) error {
	snap := subtask.Snapshot()
	parentTaskID := snap.ParentTaskID
	parentCfg, _ := snap.Parameters["parent_config"].(config.AgentConfig)
	parentMem, _ := snap.Parameters["parent_memory"].(*memory.Manager)
	instruction, _ := snap.Parameters["subtask_description"].(string)

	depth := o.depthOf(parentTaskID) + 1

	ctx, delegationSpan := telemetry.StartDelegation(ctx, parentTaskID, depth)
	defer func() {
		var spanErr error
		if subtask.Snapshot().Status == task.StatusFailed {
			spanErr = fmt.Errorf("%s", subtask.Snapshot().Error)
		}
		telemetry.End(delegationSpan, spanErr)
	}()

	o.mu.Lock()
	if depth >= parentCfg.MaxDepth {
		o.mu.Unlock()
		subtask.Fail("depth_limit", fmt.Sprintf("depth %d >= max_depth %d", depth, parentCfg.MaxDepth))
		return nil
	}
	o.children[parentTaskID]++
	if o.children[parentTaskID] > parentCfg.MaxChildren {
		o.mu.Unlock()
		subtask.Fail("depth_limit", fmt.Sprintf("sibling count exceeds max_children %d", parentCfg.MaxChildren))
		return nil
	}
	o.mu.Unlock()

	addSkills, _ := snap.Parameters["add_skills"].([]string)
	removeSkills, _ := snap.Parameters["remove_skills"].([]string)
	addTools, _ := snap.Parameters["add_tools"].([]string)
	removeTools, _ := snap.Parameters["remove_tools"].([]string)

	childCfg := config.Inherit(parentCfg, addSkills, removeSkills, addTools, removeTools)
	if depth+1 == parentCfg.MaxDepth {
		childCfg = config.RemoveTool(childCfg, "delegate_task")
	}

	childID := fmt.Sprintf("%s/child-%d", parentTaskID, depth)
	o.log.Debug("%s spawning child %s at depth %d for: %s", fractalPrefix(fmt.Sprintf("[FRACTAL depth=%d]", depth)), childID, depth, instruction)

	var projection memory.Projection
	if parentMem != nil {
		projection = parentMem.CreateProjection(ctx, instruction, childCfg.ContextBudget/2, "")
	}
	child := o.NewChild(childID, childCfg, projection)

	timeoutMs := defaultDelegationTimeoutMs
	if v, ok := snap.Parameters["timeout_ms"].(int); ok && v > 0 {
		timeoutMs = v
	}
	childCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	childTask := task.New(task.ActionExecute, map[string]any{"content": instruction}, childID, "")
	childTask.SessionID = snap.SessionID

	// Recorded against the child's own executing task id (not the
	// delegation_request task), since that is the parent_task_id a
	// grandchild delegation will carry.
	o.mu.Lock()
	o.depth[childTask.TaskID] = depth
	o.mu.Unlock()

	resultCh := make(chan *task.Task, 1)
	go func() { resultCh <- child.ExecuteTask(childCtx, childTask) }()

	select {
	case final := <-resultCh:
		if final.Status == task.StatusFailed {
			subtask.Fail("subtask_failed", final.Error)
			return nil
		}
		subtask.Complete(final.Result)
		return nil
	case <-childCtx.Done():
		subtask.Fail("delegation_timeout", fmt.Sprintf("child %s timed out after %dms", childID, timeoutMs))
		return nil
	}
}

// Synthesize combines multiple parallel delegation results per
// SynthMode. LLM-narrative synthesis is delegated to the supplied
// summarizer function so the orchestrator doesn't need its own LLM port.
func (o *Orchestrator) Synthesize(ctx context.Context, results []string, narrate func(ctx context.Context, parts []string) (string, error)) (string, error) {
	switch o.SynthMode {
	case SynthesisJSONMerge:
		return jsonMerge(results), nil
	case SynthesisLLMNarrative:
		if narrate == nil {
			return jsonMerge(results), nil
		}
		return narrate(ctx, results)
	default:
		out := ""
		for i, r := range results {
			if i > 0 {
				out += "\n\n"
			}
			out += r
		}
		return out, nil
	}
}

func jsonMerge(results []string) string {
	out := "["
	for i, r := range results {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", r)
	}
	return out + "]"
}

// DelegateToolHandler builds the delegate_task tool handler registered
// on the shared tool.Registry: it packages the caller's config/memory
// onto the subtask's parameters and runs it through DelegateTask so the
// bus-level helper's timeout/cancellation plumbing applies uniformly.
func DelegateToolHandler(b bus.Bus, targetAgent string, parentTaskID string, parentCfg config.AgentConfig, parentMem *memory.Manager) func(ctx context.Context, args map[string]any) (string, any, error) {
	return func(ctx context.Context, args map[string]any) (string, any, error) {
		instruction, _ := args["subtask_description"].(string)
		params := map[string]any{
			"subtask_description": instruction,
			"parent_config":       parentCfg,
			"parent_memory":       parentMem,
		}
		for _, key := range []string{"add_skills", "remove_skills", "add_tools", "remove_tools"} {
			if v, ok := args[key]; ok {
				params[key] = toStringSlice(v)
			}
		}
		if v, ok := args["timeout_ms"]; ok {
			if f, ok := v.(float64); ok {
				params["timeout_ms"] = int(f)
			}
		}

		subtask := task.New(task.ActionNodeDelegationRequest, params, "", targetAgent)
		subtask.ParentTaskID = parentTaskID

		timeoutMs := defaultDelegationTimeoutMs
		if v, ok := params["timeout_ms"].(int); ok {
			timeoutMs = v
		}
		final, err := b.DelegateTask(ctx, targetAgent, subtask, timeoutMs)
		if err != nil {
			return "", nil, err
		}
		if final.Status != task.StatusCompleted {
			return "", nil, fmt.Errorf("subtask_failed: %s", final.Error)
		}
		result, _ := final.Result.(string)
		return result, final.Result, nil
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
