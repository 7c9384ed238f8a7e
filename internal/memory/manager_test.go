package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractal/internal/ports"
)

func TestL1CapacityEnforced(t *testing.T) {
	m := NewManager(WithConfig(Config{L1Capacity: 5, L2Capacity: 100, L3Capacity: 500, L4SoftCap: 150,
		PromoteThreshold: 1.1, PromoteThresholdMin: 0.1, PromoteThresholdMax: 1.1,
		PromoteAdjustStep: 0.05, PromoteAdjustWindow: 1000, PromoteTargetLow: 0.2, PromoteTargetHigh: 0.3,
		ImportanceDecayLambda: 0.1}))

	for i := 0; i < 10; i++ {
		m.Record(fmt.Sprintf("item %d", i), UnitTask, 0.5, "", nil)
	}
	assert.LessOrEqual(t, m.L1Len(), 5)
}

func TestS6PromotionAcrossTiers(t *testing.T) {
	embedder := ports.NewFakeEmbedder(16)
	store := ports.NewInMemoryVectorStore()
	m := NewManager(
		WithConfig(Config{
			L1Capacity: 50, L2Capacity: 10, L3Capacity: 3, L4SoftCap: 150,
			PromoteThreshold: 0.6, PromoteThresholdMin: 0.4, PromoteThresholdMax: 0.9,
			PromoteAdjustStep: 0.05, PromoteAdjustWindow: 1000, PromoteTargetLow: 0.2, PromoteTargetHigh: 0.3,
			ImportanceDecayLambda: 0.0, ClusterSimilarityThreshold: 0.75, ClusterMinSize: 3,
		}),
		WithEmbedding(embedder),
		WithVectorStore(store),
	)

	// Inject 60 tasks with varying importance into L1 (capacity 50).
	for i := 0; i < 60; i++ {
		importance := 0.9
		if i%2 == 0 {
			importance = 0.3
		}
		m.Record(fmt.Sprintf("task number %d about migration", i), UnitTask, importance, "", nil)
	}

	assert.LessOrEqual(t, m.L1Len(), 50)
	assert.LessOrEqual(t, m.L2Len(), 10)
	assert.LessOrEqual(t, m.L3Len(), 3)
}

func TestRetrievalDegradesToKeywordWithoutEmbeddingPort(t *testing.T) {
	m := NewManager()
	m.Record("the database migration failed with a timeout", UnitTask, 0.5, "", nil)
	m.Record("unrelated note about lunch", UnitTask, 0.5, "", nil)

	results := m.Retrieve(context.Background(), "database migration", 5, "")
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Content, "migration")
}

func TestRetrievalEmptyL4YieldsChildlessXML(t *testing.T) {
	m := NewManager(WithEmbedding(ports.NewFakeEmbedder(8)), WithVectorStore(ports.NewInMemoryVectorStore()))
	results := m.Retrieve(context.Background(), "anything", 5, "longterm")
	xml := SerializeXML(results)
	assert.Equal(t, "<retrieved_memory></retrieved_memory>", xml)
}

func TestEphemeralStoreLifecycle(t *testing.T) {
	m := NewManager()
	m.AddEphemeral("call-1", "intermediate state", map[string]any{"step": 1})

	content, meta, ok := m.GetEphemeral("call-1")
	require.True(t, ok)
	assert.Equal(t, "intermediate state", content)
	assert.Equal(t, 1, meta["step"])

	m.ClearEphemeral("call-1")
	_, _, ok = m.GetEphemeral("call-1")
	assert.False(t, ok)
}

func TestCreateProjectionDetectsDebugMode(t *testing.T) {
	m := NewManager()
	m.Record("earlier plan step", UnitTask, 0.8, "", nil)

	proj := m.CreateProjection(context.Background(), "fix the failing test and debug the error", 1000, "")
	assert.Equal(t, ModeDebug, proj.Mode)
}
