package agentnode

import "context"

type agentIDKey struct{}
type taskIDKey struct{}

// WithAgentID attaches id as the calling node's identity on ctx, so a
// tool handler shared across every node in a run (delegate_task, the
// mandatory memory-query tools) can look up which agent is calling it
// instead of depending on a per-node Registry entry.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, id)
}

// AgentIDFromContext returns the agent ID attached by WithAgentID, if any.
func AgentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(agentIDKey{}).(string)
	return id, ok
}

// WithTaskID attaches the task currently being worked on to ctx, so
// delegate_task can set the subtask's ParentTaskID without needing the
// *task.Task plumbed into every tool handler signature.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey{}, id)
}

// TaskIDFromContext returns the task ID attached by WithTaskID, if any.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(taskIDKey{}).(string)
	return id, ok
}
