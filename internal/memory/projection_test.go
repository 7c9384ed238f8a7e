package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedProjectionRecordsPlanItemsAndFacts(t *testing.T) {
	parent := NewManager()
	parent.Record("step 1: gather requirements", UnitTask, 0.9, "", nil)
	parent.PromoteTiers(context.Background())
	parent.Record("the staging DB password rotated last week", UnitFact, 0.8, "", nil)

	projection := parent.CreateProjection(context.Background(), "gather requirements", 400, "")
	require.NotEmpty(t, projection.PlanItems)

	child := NewManager()
	child.SeedProjection("", projection)

	retrieved := child.Retrieve(context.Background(), "requirements", 10, "")
	var found bool
	for _, r := range retrieved {
		if r.Content == projection.PlanItems[0] {
			found = true
		}
	}
	assert.True(t, found, "child memory should contain the seeded plan item")
}

func TestSeedProjectionIsACopyNotALiveReference(t *testing.T) {
	parent := NewManager()
	parent.Record("task A", UnitTask, 0.9, "", nil)
	parent.PromoteTiers(context.Background())

	projection := parent.CreateProjection(context.Background(), "task A", 400, "")
	child := NewManager()
	child.SeedProjection("", projection)

	parent.Record("task B recorded after the projection was taken", UnitTask, 0.9, "", nil)
	parent.PromoteTiers(context.Background())

	for _, u := range child.l1 {
		assert.NotContains(t, u.Content, "task B")
	}
}
