// Package bus implements the uniform pub/sub fabric (C2) through which
// every node in the runtime communicates. Every component that needs to
// observe or route tasks depends on the Bus interface, never on a
// concrete transport, so a future distributed backend (Redis, NATS) can
// satisfy the same contract.
package bus

import (
	"context"
	"sort"
	"sync"
	"time"

	"fractal/internal/logging"
	"fractal/internal/task"
)

// Handler processes a task and mutates it in place (setting Result/Error
// and a terminal Status) before returning.
type Handler func(ctx context.Context, t *task.Task) error

// Bus is the contract every component depends on. It is satisfied by the
// in-process implementation below; a distributed transport can implement
// the same interface without the core needing to change.
type Bus interface {
	Publish(ctx context.Context, t *task.Task, waitResult bool) (*task.Task, error)
	RegisterHandler(action task.Action, h Handler)
	Subscribe(action task.Action, h Handler)
	QueryByTarget(target string, limit int) []*task.Task
	QueryBySource(source string, limit int) []*task.Task
	QueryByAction(action task.Action, limit int) []*task.Task
	QueryByTaskID(taskID string, limit int) []*task.Task
	DelegateTask(ctx context.Context, targetAgent string, subtask *task.Task, timeoutMs int) (*task.Task, error)
	History() []*task.Task
}

const defaultHistoryCapacity = 1000

// InProcessBus is the default Bus: single process, in-memory indices,
// bounded history. It is safe for concurrent publishers. A handler runs
// on the publisher's goroutine when waitResult is true and on a new
// goroutine when it is false; the bus does not serialise invocations of
// one handler, so concurrent publishes of the same action may run it
// concurrently.
type InProcessBus struct {
	log logging.Logger

	mu              sync.Mutex
	handlers        map[task.Action]Handler
	secondary       map[task.Action][]Handler
	history         []*task.Task
	historyCapacity int

	bySource map[string][]*task.Task
	byAction map[task.Action][]*task.Task
	byTaskID map[string][]*task.Task
	byTarget map[string][]*task.Task
}

// Option configures an InProcessBus at construction.
type Option func(*InProcessBus)

// WithHistoryCapacity overrides the default bounded-history size (1000).
func WithHistoryCapacity(n int) Option {
	return func(b *InProcessBus) { b.historyCapacity = n }
}

// WithLogger attaches a component logger; defaults to a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(b *InProcessBus) { b.log = logging.OrNop(l) }
}

// New constructs an InProcessBus.
func New(opts ...Option) *InProcessBus {
	b := &InProcessBus{
		log:             logging.Nop,
		handlers:        make(map[task.Action]Handler),
		secondary:       make(map[task.Action][]Handler),
		historyCapacity: defaultHistoryCapacity,
		bySource:        make(map[string][]*task.Task),
		byAction:        make(map[task.Action][]*task.Task),
		byTaskID:        make(map[string][]*task.Task),
		byTarget:        make(map[string][]*task.Task),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// RegisterHandler installs the single primary handler for action,
// replacing any previous one.
func (b *InProcessBus) RegisterHandler(action task.Action, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[action] = h
}

// Subscribe adds a secondary, fire-and-forget observer for action. Unlike
// the primary handler, subscribers never mutate the task's terminal
// status and their errors are only logged.
func (b *InProcessBus) Subscribe(action task.Action, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.secondary[action] = append(b.secondary[action], h)
}

// Publish routes t to its primary handler. With waitResult=true it
// awaits the handler and returns the mutated task with a terminal
// status. With waitResult=false it starts the handler asynchronously
// and returns immediately with status=running; the caller can observe
// completion later via QueryByTaskID.
func (b *InProcessBus) Publish(ctx context.Context, t *task.Task, waitResult bool) (*task.Task, error) {
	b.index(t)

	handler, subscribers := b.handlerFor(t.Action)
	if handler == nil {
		t.Fail("no_handler", "no handler registered for action "+string(t.Action))
		b.log.Warn("publish %s: no handler for action %s", t.TaskID, t.Action)
		return t, nil
	}

	run := func() {
		defer b.notifySubscribers(ctx, subscribers, t)
		defer b.recoverIntoFailure(t)
		t.MarkRunning()
		if err := handler(ctx, t); err != nil && !t.Status.IsTerminal() {
			t.Fail("tool_error", err.Error())
		}
	}

	if waitResult {
		run()
		return t, nil
	}

	t.MarkRunning()
	go run()
	return t, nil
}

func (b *InProcessBus) recoverIntoFailure(t *task.Task) {
	if r := recover(); r != nil {
		b.log.Error("handler panic for task %s: %v", t.TaskID, r)
		if !t.Status.IsTerminal() {
			t.Fail("tool_error", "handler panicked")
		}
	}
}

func (b *InProcessBus) notifySubscribers(ctx context.Context, subs []Handler, t *task.Task) {
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("subscriber panic for task %s: %v", t.TaskID, r)
				}
			}()
			_ = s(ctx, t)
		}()
	}
}

func (b *InProcessBus) handlerFor(action task.Action) (Handler, []Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[action], append([]Handler(nil), b.secondary[action]...)
}

// index appends t to history (evicting the oldest entry on overflow) and
// updates every secondary index in lock-step.
func (b *InProcessBus) index(t *task.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, t)
	if len(b.history) > b.historyCapacity {
		evicted := b.history[0]
		b.history = b.history[1:]
		b.removeFromIndices(evicted)
	}

	b.bySource[t.SourceAgent] = append(b.bySource[t.SourceAgent], t)
	b.byAction[t.Action] = append(b.byAction[t.Action], t)
	b.byTaskID[t.TaskID] = append(b.byTaskID[t.TaskID], t)
	if t.TargetAgent != "" {
		b.byTarget[t.TargetAgent] = append(b.byTarget[t.TargetAgent], t)
	}
	if t.ParentTaskID != "" {
		b.byTaskID[t.ParentTaskID] = append(b.byTaskID[t.ParentTaskID], t)
	}
}

func (b *InProcessBus) removeFromIndices(evicted *task.Task) {
	b.bySource[evicted.SourceAgent] = removeTask(b.bySource[evicted.SourceAgent], evicted)
	b.byAction[evicted.Action] = removeTask(b.byAction[evicted.Action], evicted)
	b.byTaskID[evicted.TaskID] = removeTask(b.byTaskID[evicted.TaskID], evicted)
	if evicted.TargetAgent != "" {
		b.byTarget[evicted.TargetAgent] = removeTask(b.byTarget[evicted.TargetAgent], evicted)
	}
	if evicted.ParentTaskID != "" {
		b.byTaskID[evicted.ParentTaskID] = removeTask(b.byTaskID[evicted.ParentTaskID], evicted)
	}
}

func removeTask(list []*task.Task, target *task.Task) []*task.Task {
	for i, t := range list {
		if t == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func (b *InProcessBus) QueryBySource(source string, limit int) []*task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lastN(b.bySource[source], limit)
}

func (b *InProcessBus) QueryByAction(action task.Action, limit int) []*task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lastN(b.byAction[action], limit)
}

func (b *InProcessBus) QueryByTaskID(taskID string, limit int) []*task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return lastN(b.byTaskID[taskID], limit)
}

// QueryByTarget implements the direct-message query: results are sorted
// by descending priority (parameters "priority", default 0.5),
// then by descending timestamp, with TTL-expired messages filtered out.
func (b *InProcessBus) QueryByTarget(target string, limit int) []*task.Task {
	b.mu.Lock()
	all := append([]*task.Task(nil), b.byTarget[target]...)
	b.mu.Unlock()

	now := time.Now().UTC()
	live := make([]*task.Task, 0, len(all))
	for _, t := range all {
		snap := t.Snapshot()
		if snap.TargetAgent != target {
			continue
		}
		if ttl, ok := snap.Parameters["ttl_seconds"]; ok {
			if secs, ok := toFloat(ttl); ok {
				expiry := snap.CreatedAt.Add(time.Duration(secs) * time.Second)
				if now.After(expiry) {
					continue
				}
			}
		}
		live = append(live, t)
	}

	sort.SliceStable(live, func(i, j int) bool {
		pi := priorityOf(live[i])
		pj := priorityOf(live[j])
		if pi != pj {
			return pi > pj
		}
		return live[i].Snapshot().CreatedAt.After(live[j].Snapshot().CreatedAt)
	})

	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	return live
}

func priorityOf(t *task.Task) float64 {
	snap := t.Snapshot()
	if p, ok := snap.Parameters["priority"]; ok {
		if f, ok := toFloat(p); ok {
			return f
		}
	}
	return 0.5
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func lastN(list []*task.Task, limit int) []*task.Task {
	cp := append([]*task.Task(nil), list...)
	if limit > 0 && len(cp) > limit {
		cp = cp[len(cp)-limit:]
	}
	return cp
}

// History returns a snapshot of the bounded publish-order history.
func (b *InProcessBus) History() []*task.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*task.Task(nil), b.history...)
}

const defaultDelegationTimeoutMs = 30000

// DelegateTask publishes a node.delegation_request for targetAgent,
// awaits the primary handler's result (a waitResult=true publish on a
// separate goroutine), and returns it. It times out with a delegation_timeout error after
// timeoutMs (default 30,000), per the spec's delegation helper contract.
//
// Note: this is the bus-level building block used by the fractal
// orchestrator (C7); the orchestrator's own timeout for a full child
// execution defaults to 60,000ms and is layered on top of this.
func (b *InProcessBus) DelegateTask(ctx context.Context, targetAgent string, subtask *task.Task, timeoutMs int) (*task.Task, error) {
	if timeoutMs <= 0 {
		timeoutMs = defaultDelegationTimeoutMs
	}
	subtask.TargetAgent = targetAgent
	subtask.Action = task.ActionNodeDelegationRequest

	done := make(chan *task.Task, 1)
	go func() {
		final, _ := b.Publish(ctx, subtask, true)
		done <- final
	}()

	select {
	case final := <-done:
		return final, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		subtask.Fail("delegation_timeout", "delegation to "+targetAgent+" timed out")
		return subtask, nil
	case <-ctx.Done():
		subtask.Fail("cancelled", ctx.Err().Error())
		return subtask, nil
	}
}
