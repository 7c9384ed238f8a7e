package tool

import (
	"fmt"
	"sort"
	"sync"

	"fractal/internal/logging"
)

// Registry holds every tool available to agents, shared immutable-after-
// registration across a run (§5 "tool registry is shared immutable-
// after-initialisation"). Registration itself is mutex-guarded so an
// embedder may add built-ins during startup before any agent runs.
type Registry struct {
	mu   sync.RWMutex
	log  logging.Logger
	byName map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log logging.Logger) *Registry {
	return &Registry{log: logging.OrNop(log), byName: make(map[string]Tool)}
}

// Register installs t, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = 30000
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}
	r.byName[t.Name] = t
	r.log.Debug("registered tool %s (readonly=%v)", t.Name, t.IsReadonly)
}

// Get returns the tool named name, or ok=false if unregistered.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Unregister removes name from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// All returns every registered tool, sorted by name for deterministic
// iteration (e.g. when building the LLM's tool list).
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// VisibleFor returns the subset of registered tools whose names are in
// allowed, or every tool if allowed is nil (no restriction configured).
// This is how AgentConfig's enabled-tools set and the fractal
// orchestrator's depth-based pruning (§4.7) are applied without the
// registry itself knowing about agent configuration.
func (r *Registry) VisibleFor(allowed map[string]struct{}) []Tool {
	all := r.All()
	if allowed == nil {
		return all
	}
	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if _, ok := allowed[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ValidateArguments checks args against tool's JSON Schema. This is a
// minimal required/type checker sufficient for the schemas the runtime's
// builtin tools declare; an embedder with stricter needs may validate
// again inside its own Handler.
func ValidateArguments(t Tool, args map[string]any) []string {
	if t.Schema == nil {
		return nil
	}
	var problems []string
	required, _ := t.Schema["required"].([]any)
	if names, ok := t.Schema["required"].([]string); ok {
		for _, n := range names {
			required = append(required, n)
		}
	}
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			problems = append(problems, fmt.Sprintf("missing required field %q", name))
		}
	}
	props, _ := t.Schema["properties"].(map[string]any)
	for key, val := range args {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := propSchema["type"].(string)
		if wantType == "" {
			continue
		}
		if !matchesJSONType(val, wantType) {
			problems = append(problems, fmt.Sprintf("field %q: expected %s", key, wantType))
		}
	}
	return problems
}

func matchesJSONType(v any, jsonType string) bool {
	switch jsonType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int:
			return true
		}
		return false
	case "integer":
		switch n := v.(type) {
		case float64:
			return n == float64(int(n))
		case int:
			return true
		}
		return false
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
