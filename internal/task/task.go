// Package task defines the universal unit of work exchanged between every
// node in the runtime: agents, the event bus, tools viewed as nodes, and
// the fractal orchestrator all speak Task.
package task

import (
	"fmt"
	"sync"
	"time"
)

// Action is the closed set of task actions. New panics on anything not in
// this set; the bus does not check actions again at publish time.
type Action string

const (
	ActionExecute Action = "execute"
	ActionCancel  Action = "cancel"
	ActionQuery   Action = "query"
	ActionStream  Action = "stream"

	ActionNodeThinking          Action = "node.thinking"
	ActionNodeToolCall          Action = "node.tool_call"
	ActionNodeToolResult        Action = "node.tool_result"
	ActionNodeMessage           Action = "node.message"
	ActionNodeStart             Action = "node.start"
	ActionNodeComplete          Action = "node.complete"
	ActionNodeError             Action = "node.error"
	ActionNodePlanning          Action = "node.planning"
	ActionNodeDelegationRequest Action = "node.delegation_request"
)

// validActions backs Action validation at construction time.
var validActions = map[Action]struct{}{
	ActionExecute: {}, ActionCancel: {}, ActionQuery: {}, ActionStream: {},
	ActionNodeThinking: {}, ActionNodeToolCall: {}, ActionNodeToolResult: {},
	ActionNodeMessage: {}, ActionNodeStart: {}, ActionNodeComplete: {},
	ActionNodeError: {}, ActionNodePlanning: {}, ActionNodeDelegationRequest: {},
}

// IsValid reports whether a is one of the closed set of actions.
func (a Action) IsValid() bool {
	_, ok := validActions[a]
	return ok
}

// Status is the one-way lifecycle of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the three terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is the only inter-node payload in the runtime.
type Task struct {
	mu sync.RWMutex

	TaskID       string
	SourceAgent  string
	TargetAgent  string
	Action       Action
	Parameters   map[string]any
	Status       Status
	Result       any
	Error        string
	ErrorKind    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SessionID    string
	Metadata     map[string]any
	ParentTaskID string
}

// New constructs a pending Task. It panics if action is not in the closed
// set, matching the spec's invariant that an invalid action can never
// enter the system rather than failing silently downstream.
func New(action Action, parameters map[string]any, source, target string) *Task {
	if !action.IsValid() {
		panic(fmt.Sprintf("task: invalid action %q", action))
	}
	now := time.Now().UTC()
	if parameters == nil {
		parameters = map[string]any{}
	}
	return &Task{
		TaskID:      newTaskID(),
		SourceAgent: source,
		TargetAgent: target,
		Action:      action,
		Parameters:  parameters,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]any{},
	}
}

// NewSubtask constructs a child task whose TaskID is derived from parent
// per the spec's `parent_id:subtask-N` convention.
func NewSubtask(parent *Task, n int, action Action, parameters map[string]any, source, target string) *Task {
	t := New(action, parameters, source, target)
	t.TaskID = fmt.Sprintf("%s:subtask-%d", parent.TaskID, n)
	t.ParentTaskID = parent.TaskID
	t.SessionID = parent.SessionID
	return t
}

var idCounter struct {
	mu sync.Mutex
	n  uint64
}

// newTaskID mints a process-unique task id. Tasks never need global
// uniqueness beyond one run, so a monotonically increasing counter plus
// the creation timestamp is sufficient and keeps the package free of a
// randomness dependency.
func newTaskID() string {
	idCounter.mu.Lock()
	idCounter.n++
	n := idCounter.n
	idCounter.mu.Unlock()
	return fmt.Sprintf("task-%d-%d", time.Now().UTC().UnixNano(), n)
}

// MarkRunning transitions a pending task into the running state.
func (t *Task) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusRunning
	t.UpdatedAt = time.Now().UTC()
}

// Complete transitions the task into its terminal completed state. A
// second call after a terminal state is a no-op, enforcing the one-way
// transition invariant.
func (t *Task) Complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusCompleted
	t.Result = result
	t.UpdatedAt = time.Now().UTC()
}

// Fail transitions the task into its terminal failed state, recording an
// error kind drawn from the wire error taxonomy (§6) and a free-form
// detail string.
func (t *Task) Fail(kind, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusFailed
	t.ErrorKind = kind
	t.Error = detail
	t.UpdatedAt = time.Now().UTC()
}

// Cancel transitions the task into its terminal cancelled state.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.IsTerminal() {
		return
	}
	t.Status = StatusCancelled
	t.ErrorKind = "cancelled"
	t.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a value copy of the task's observable fields, safe to
// read without holding the task's lock afterward.
func (t *Task) Snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()

	params := make(map[string]any, len(t.Parameters))
	for k, v := range t.Parameters {
		params[k] = v
	}
	meta := make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		meta[k] = v
	}

	return Task{
		TaskID:       t.TaskID,
		SourceAgent:  t.SourceAgent,
		TargetAgent:  t.TargetAgent,
		Action:       t.Action,
		Parameters:   params,
		Status:       t.Status,
		Result:       t.Result,
		Error:        t.Error,
		ErrorKind:    t.ErrorKind,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		SessionID:    t.SessionID,
		Metadata:     meta,
		ParentTaskID: t.ParentTaskID,
	}
}

// Importance reads the conventional metadata["importance"] field,
// defaulting to 0.5 when absent or malformed.
func (t *Task) Importance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.Metadata["importance"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0.5
}
