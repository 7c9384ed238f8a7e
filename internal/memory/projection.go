package memory

import (
	"context"
	"strings"
)

// ProjectionMode biases what create_projection selects, auto-detected
// from the delegation instruction's keywords (§4.4).
type ProjectionMode string

const (
	ModeStandard   ProjectionMode = "STANDARD"
	ModeDebug      ProjectionMode = "DEBUG"
	ModeAnalytical ProjectionMode = "ANALYTICAL"
	ModeContextual ProjectionMode = "CONTEXTUAL"
	ModeMinimal    ProjectionMode = "MINIMAL"
)

// DetectMode infers a ProjectionMode from instruction keywords, falling
// back to ModeStandard.
func DetectMode(instruction string) ProjectionMode {
	lower := strings.ToLower(instruction)
	switch {
	case containsAny(lower, "error", "fix", "bug", "debug", "failing"):
		return ModeDebug
	case containsAny(lower, "analy", "evaluate", "assess", "compare"):
		return ModeAnalytical
	case containsAny(lower, "continue", "resume", "follow up", "followup"):
		return ModeContextual
	case len(strings.Fields(instruction)) <= 6:
		return ModeMinimal
	default:
		return ModeStandard
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Projection is the read-only memory slice handed to a child agent on
// delegation: a compact selection of plan items (from L1/L2) and facts
// (Retrieve results for the instruction, from any tier), never a
// reference to the parent's live tiers.
type Projection struct {
	Mode       ProjectionMode
	PlanItems  []string
	Facts      []string
	TokenCount int // approximate, callers should re-measure with their own tokenizer
}

// CreateProjection builds a Projection for a child agent. mode, if empty,
// is auto-detected from instruction. totalBudget bounds the approximate
// character count of the returned content (a coarse proxy; the Context
// Assembler applies the authoritative token budget).
func (m *Manager) CreateProjection(ctx context.Context, instruction string, totalBudget int, mode ProjectionMode) Projection {
	if mode == "" {
		mode = DetectMode(instruction)
	}

	planBudget, factBudget := splitBudget(mode, totalBudget)

	m.mu.Lock()
	l1 := append([]Unit(nil), m.l1...)
	l2 := append([]Unit(nil), m.l2...)
	m.mu.Unlock()

	plan := selectByBudget(append(l2, l1...), planBudget)

	retrieved := m.Retrieve(ctx, instruction, 10, "")
	facts := make([]string, 0, len(retrieved))
	used := 0
	for _, r := range retrieved {
		if used+len(r.Content) > factBudget {
			break
		}
		facts = append(facts, r.Content)
		used += len(r.Content)
	}

	planUsed := 0
	for _, p := range plan {
		planUsed += len(p)
	}
	return Projection{Mode: mode, PlanItems: plan, Facts: facts, TokenCount: (planUsed + used) / 4}
}

// SeedProjection records a Projection's plan items and facts into the
// receiving Manager's own L1, so a delegated child starts its ReAct loop
// with the parent's projected context already recorded rather than with
// blank memory. Plan items and facts are copied values, never a live
// reference back into the parent's tiers, matching the "projection, not
// a reference" invariant (§3, §9).
func (m *Manager) SeedProjection(sessionID string, p Projection) {
	for _, item := range p.PlanItems {
		m.Record(item, UnitTask, 0.6, sessionID, map[string]any{"seeded_from": "projection"})
	}
	for _, fact := range p.Facts {
		m.Record(fact, UnitFact, 0.5, sessionID, map[string]any{"seeded_from": "projection"})
	}
}

func splitBudget(mode ProjectionMode, total int) (plan, facts int) {
	switch mode {
	case ModeMinimal:
		return total / 4, total / 4
	case ModeDebug:
		return total / 3, total * 2 / 3
	case ModeAnalytical:
		return total / 3, total * 2 / 3
	case ModeContextual:
		return total * 2 / 3, total / 3
	default:
		return total / 2, total / 2
	}
}

func selectByBudget(units []Unit, budget int) []string {
	var out []string
	used := 0
	for _, u := range units {
		if used+len(u.Content) > budget {
			continue
		}
		out = append(out, u.Content)
		used += len(u.Content)
	}
	return out
}
