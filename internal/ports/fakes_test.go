package ports

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLLMScenarioMatching(t *testing.T) {
	llm := NewFakeLLM(FakeScenario{
		Match: func(req ChatRequest) bool { return LastUserContent(req) == "2+2" },
		Response: ChatResponse{
			Content: "4",
		},
	})

	resp, err := llm.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "2+2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, 1, llm.Calls())
}

func TestInMemoryVectorStoreSearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()
	embedder := NewFakeEmbedder(16)

	close1, _ := embedder.Embed(ctx, "database migration plan")
	far, _ := embedder.Embed(ctx, "unrelated cooking recipe")
	require.NoError(t, store.Upsert(ctx, "close", close1, map[string]any{"kind": "close"}))
	require.NoError(t, store.Upsert(ctx, "far", far, map[string]any{"kind": "far"}))

	query, _ := embedder.Embed(ctx, "database migration")
	matches, err := store.Search(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestFakeSandboxCreateAndExecute(t *testing.T) {
	ctx := context.Background()
	sb := NewFakeSandbox()
	require.NoError(t, sb.CreateTool(ctx, ToolSpec{Name: "greet", Description: "says hi"}))

	out, err := sb.Execute(ctx, "greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Contains(t, out, "greet")

	_, err = sb.Execute(ctx, "missing", nil)
	assert.Error(t, err)
}
