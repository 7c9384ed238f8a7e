// Package tool implements the Tool Registry & Executor (C3): schema
// validation, read/write classification, parallel batch scheduling with
// barriers, a result cache, retry, and deduplication.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Result is the uniform outcome wrapper every tool call produces. Tool
// errors never raise into the agent loop; they are reformulated as
// observations so the LLM can self-correct.
type Result struct {
	OK         bool
	Value      string
	Data       any
	ErrorKind  string
	ErrorDetail string
	Suggestion string
	CallID     string
	ToolName   string
	FromCache  bool
}

// Tool is a registrable capability. IsReadonly drives the batch
// scheduler's read/write classification (§4.3): read tools may run in
// parallel and be cached; write tools run one at a time.
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema draft-2020-12
	IsReadonly  bool
	TimeoutMs   int
	MaxRetries  int
	Handler     func(ctx context.Context, args map[string]any) (string, any, error)
}

// Call is one tool invocation requested by the LLM within a single
// iteration's batch.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CanonicalParameters renders Arguments into a stable string for hashing
// (cache keys, dedup keys) regardless of map key ordering.
func (c Call) CanonicalParameters() string {
	b, err := json.Marshal(sortedMap(c.Arguments))
	if err != nil {
		return fmt.Sprintf("%v", c.Arguments)
	}
	return string(b)
}

// sortedMap recursively converts maps into a form encoding/json always
// serializes with sorted keys (json.Marshal already sorts map[string]any
// keys, but nested maps of other concrete types might not round-trip the
// same way, so we normalize through an any-typed map everywhere).
func sortedMap(v any) any {
	switch m := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = sortedMap(val)
		}
		return out
	case []any:
		out := make([]any, len(m))
		for i, val := range m {
			out[i] = sortedMap(val)
		}
		return out
	default:
		return v
	}
}
