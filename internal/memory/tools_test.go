package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/ports"
)

func TestQueryL2ToolFiltersToL2Tier(t *testing.T) {
	m := NewManager()
	m.Record("deploy pipeline failed on staging", UnitTask, 0.9, "", nil)
	m.PromoteTiers(context.Background())

	toolT := NewQueryL2Tool(m)
	content, meta, err := toolT.Handler(context.Background(), map[string]any{"query": "deploy pipeline"})
	require.NoError(t, err)
	assert.Contains(t, content, "deploy pipeline")
	assert.Equal(t, 1, meta.(map[string]any)["count"])
}

func TestQueryL3ToolEmptyYieldsPlaceholder(t *testing.T) {
	m := NewManager()
	toolT := NewQueryL3Tool(m)
	content, meta, err := toolT.Handler(context.Background(), map[string]any{"query": "nothing recorded"})
	require.NoError(t, err)
	assert.Equal(t, "no matching memories", content)
	assert.Equal(t, 0, meta.(map[string]any)["count"])
}

func TestSearchL4ToolDegradesWithoutVectorStore(t *testing.T) {
	m := NewManager()
	toolT := NewSearchL4Tool(m)
	content, _, err := toolT.Handler(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err)
	assert.Equal(t, "no matching memories", content)
}

func TestSearchL4ToolUsesVectorStore(t *testing.T) {
	embedder := ports.NewFakeEmbedder(8)
	store := ports.NewInMemoryVectorStore()
	m := NewManager(WithEmbedding(embedder), WithVectorStore(store))

	vec, err := embedder.Embed(context.Background(), "the launch code is 4921")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), "fact-1", vec, map[string]any{"content": "the launch code is 4921"}))

	toolT := NewSearchL4Tool(m)
	content, meta, err := toolT.Handler(context.Background(), map[string]any{"query": "launch code", "top_k": 3})
	require.NoError(t, err)
	assert.Contains(t, content, "launch code")
	assert.Equal(t, 1, meta.(map[string]any)["count"])
}

func TestIntArgCoercesFloatAndFallsBackOnInvalid(t *testing.T) {
	assert.Equal(t, 3, intArg(map[string]any{"top_k": float64(3)}, "top_k", 5))
	assert.Equal(t, 5, intArg(map[string]any{"top_k": float64(-1)}, "top_k", 5))
	assert.Equal(t, 5, intArg(map[string]any{}, "top_k", 5))
}
