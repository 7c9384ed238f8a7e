package memory

import (
	"context"
	"fmt"

	"fractal/internal/tool"
)

// NewQueryL2Tool builds the query_l2_memory mandatory read-only tool
// (spec §4.6): a plan/importance-ranked lookup over the calling agent's
// own L2 tier.
func NewQueryL2Tool(m *Manager) tool.Tool {
	return tool.Tool{
		Name:        "query_l2_memory",
		Description: "Search this agent's working-memory tier (L2) for importance-ranked items matching a query.",
		IsReadonly:  true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":  map[string]any{"type": "string"},
				"top_k":  map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			query, _ := args["query"].(string)
			topK := intArg(args, "top_k", 5)
			results := filterTier(m.Retrieve(ctx, query, topK*4, ""), TierL2, topK)
			return renderResults(results), map[string]any{"count": len(results)}, nil
		},
	}
}

// NewQueryL3Tool builds the query_l3_memory mandatory read-only tool: a
// lookup over the compressed-summary tier (L3).
func NewQueryL3Tool(m *Manager) tool.Tool {
	return tool.Tool{
		Name:        "query_l3_memory",
		Description: "Search this agent's compressed summary tier (L3) for items matching a query.",
		IsReadonly:  true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			query, _ := args["query"].(string)
			topK := intArg(args, "top_k", 5)
			results := filterTier(m.Retrieve(ctx, query, topK*4, ""), TierL3, topK)
			return renderResults(results), map[string]any{"count": len(results)}, nil
		},
	}
}

// NewSearchL4Tool builds the search_l4_memory mandatory read-only tool:
// a vector-indexed lookup over the long-term fact tier (L4), degrading to
// empty results when no embedding/vector store port is configured.
func NewSearchL4Tool(m *Manager) tool.Tool {
	return tool.Tool{
		Name:        "search_l4_memory",
		Description: "Search this agent's long-term fact store (L4) for items matching a query.",
		IsReadonly:  true,
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"top_k": map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, any, error) {
			query, _ := args["query"].(string)
			topK := intArg(args, "top_k", 5)
			results := m.Retrieve(ctx, query, topK, "longterm")
			return renderResults(results), map[string]any{"count": len(results)}, nil
		},
	}
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

func filterTier(all []RetrievedMemory, tier Tier, topK int) []RetrievedMemory {
	out := make([]RetrievedMemory, 0, topK)
	for _, r := range all {
		if r.Tier != tier {
			continue
		}
		out = append(out, r)
		if len(out) >= topK {
			break
		}
	}
	return out
}

func renderResults(results []RetrievedMemory) string {
	if len(results) == 0 {
		return "no matching memories"
	}
	out := ""
	for i, r := range results {
		out += fmt.Sprintf("%d. [%s %.2f] %s\n", i+1, r.Tier, r.Relevance, r.Content)
	}
	return out
}
