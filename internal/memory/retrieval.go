package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RetrievedMemory is one item in a retrieval result, serialised into the
// `<retrieved_memory>` XML block consumed by the Context Assembler.
type RetrievedMemory struct {
	Tier      Tier
	Content   string
	Relevance float64
}

// Retrieve implements `retrieve(query, top_k, tier?)` (§4.4).
// tier="longterm" restricts to L4, which needs an embedding port and a
// vector store (cosine search) and is empty without them. Any other tier
// value keyword-matches L1-L3, adds the L4 hits when both ports are
// configured, and ranks everything by relevance alone: L4 hits come
// before other tiers only when their scores are equal.
func (m *Manager) Retrieve(ctx context.Context, query string, topK int, tier string) []RetrievedMemory {
	m.mu.Lock()
	l1, l2, l3 := append([]Unit(nil), m.l1...), append([]Unit(nil), m.l2...), append([]Unit(nil), m.l3...)
	m.mu.Unlock()

	if tier == "longterm" {
		return m.retrieveL4(ctx, query, topK)
	}

	var out []RetrievedMemory
	if m.embed != nil && m.vector != nil {
		out = append(out, m.retrieveL4(ctx, query, topK)...)
	}
	out = append(out, keywordMatch(l3, TierL3, query)...)
	out = append(out, keywordMatch(l2, TierL2, query)...)
	out = append(out, keywordMatch(l1, TierL1, query)...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func (m *Manager) retrieveL4(ctx context.Context, query string, topK int) []RetrievedMemory {
	if m.embed == nil || m.vector == nil {
		return nil
	}
	vec, err := m.embed.Embed(ctx, query)
	if err != nil {
		m.log.Warn("embedding failed, L4 retrieval degraded to empty: %v", err)
		return nil
	}
	matches, err := m.vector.Search(ctx, vec, topK)
	if err != nil {
		m.log.Warn("vector search failed, L4 retrieval degraded to empty: %v", err)
		return nil
	}
	out := make([]RetrievedMemory, 0, len(matches))
	for _, mt := range matches {
		content, _ := mt.Metadata["content"].(string)
		out = append(out, RetrievedMemory{Tier: TierL4, Content: content, Relevance: mt.Score})
	}
	return out
}

// keywordMatch scores units by the fraction of query terms they contain;
// Retrieve uses it for L1-L3 whether or not an embedding port is
// configured.
func keywordMatch(units []Unit, tier Tier, query string) []RetrievedMemory {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	var out []RetrievedMemory
	for _, u := range units {
		lower := strings.ToLower(u.Content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		out = append(out, RetrievedMemory{Tier: tier, Content: u.Content, Relevance: float64(hits) / float64(len(terms))})
	}
	return out
}

// SerializeXML renders the retrieval results as the
// `<retrieved_memory><memory tier="..." relevance="...">...</memory></retrieved_memory>`
// block the Context Assembler embeds in the prompt. An empty result set
// still yields a valid, childless element, matching the spec's boundary
// behaviour for empty L4 with no embedding port.
func SerializeXML(results []RetrievedMemory) string {
	var b strings.Builder
	b.WriteString("<retrieved_memory>")
	for _, r := range results {
		fmt.Fprintf(&b, "<memory tier=%q relevance=\"%.3f\">%s</memory>", r.Tier, r.Relevance, xmlEscape(r.Content))
	}
	b.WriteString("</retrieved_memory>")
	return b.String()
}

func xmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
