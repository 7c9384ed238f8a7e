package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fractal/internal/logging"
	"fractal/internal/ports"
)

// Summarizer condenses memory units into a shorter textual summary,
// normally LLM-assisted with a rule-based fallback on LLM failure
// (§4.4's degradation rule).
type Summarizer interface {
	Summarize(ctx context.Context, units []Unit) (string, error)
}

// RuleBasedSummarizer concatenates truncated content; used as the
// fallback when no LLM-backed Summarizer is configured or the LLM call
// fails.
type RuleBasedSummarizer struct{}

func (RuleBasedSummarizer) Summarize(ctx context.Context, units []Unit) (string, error) {
	var b strings.Builder
	for i, u := range units {
		if i > 0 {
			b.WriteString(" | ")
		}
		c := u.Content
		if len(c) > 120 {
			c = c[:120] + "..."
		}
		b.WriteString(c)
	}
	return b.String(), nil
}

// Manager owns one agent's memory across all four tiers plus the
// ephemeral store. Per spec §5 memory is per-agent; a child agent either
// receives a projection of its parent's manager or a dedicated instance.
type Manager struct {
	cfg Config
	log logging.Logger

	embed  ports.EmbeddingPort // optional; nil degrades retrieval to keyword search
	vector ports.VectorStorePort
	sum    Summarizer

	mu sync.Mutex
	l1 []Unit // insertion order
	l2 []Unit // importance-desc
	l3 []Unit // creation-time order

	ephemeral map[string]ephemeralEntry

	l1SinceAdjust int
	l1Promoted    int
}

type ephemeralEntry struct {
	content  string
	metadata map[string]any
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithEmbedding(e ports.EmbeddingPort) Option { return func(m *Manager) { m.embed = e } }
func WithVectorStore(v ports.VectorStorePort) Option {
	return func(m *Manager) { m.vector = v }
}
func WithSummarizer(s Summarizer) Option { return func(m *Manager) { m.sum = s } }
func WithLogger(l logging.Logger) Option { return func(m *Manager) { m.log = logging.OrNop(l) } }
func WithConfig(c Config) Option         { return func(m *Manager) { m.cfg = c } }

// NewManager constructs a Manager. Without WithEmbedding/WithVectorStore,
// L4 is unavailable and retrieval degrades to keyword search over L1-L3,
// matching §4.4's failure semantics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		log:       logging.Nop,
		sum:       RuleBasedSummarizer{},
		ephemeral: make(map[string]ephemeralEntry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Record ingests content into L1. importance is the conventional
// metadata["importance"] from the originating Task, defaulting to 0.5.
func (m *Manager) Record(content string, unitType UnitType, importance float64, sessionID string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	u := Unit{
		UnitID:       newUnitID(),
		Content:      content,
		Tier:         TierL1,
		Type:         unitType,
		Importance:   importance,
		CreatedAt:    now,
		LastAccessed: now,
		Metadata:     metadata,
		SessionID:    sessionID,
	}
	m.l1 = append(m.l1, u)
	m.evictL1Locked(now)
}

var unitCounter struct {
	mu sync.Mutex
	n  uint64
}

func newUnitID() string {
	unitCounter.mu.Lock()
	unitCounter.n++
	n := unitCounter.n
	unitCounter.mu.Unlock()
	return fmt.Sprintf("unit-%d-%d", time.Now().UTC().UnixNano(), n)
}

// evictL1Locked enforces the L1 capacity bound. Eviction ranks by a
// combined recency+importance score (effective importance already
// incorporates age decay, which doubles as the recency signal); the
// lowest-ranked unit is evicted. Callers must hold m.mu.
func (m *Manager) evictL1Locked(now time.Time) {
	for len(m.l1) > m.cfg.L1Capacity {
		worst := 0
		worstScore := m.l1[0].EffectiveImportance(now, m.cfg.ImportanceDecayLambda)
		for i := 1; i < len(m.l1); i++ {
			score := m.l1[i].EffectiveImportance(now, m.cfg.ImportanceDecayLambda)
			if score < worstScore {
				worst, worstScore = i, score
			}
		}
		evicted := m.l1[worst]
		m.l1 = append(m.l1[:worst], m.l1[worst+1:]...)
		m.maybePromoteLocked(evicted, now)
	}
}

// maybePromoteLocked implements L1->L2 promotion: items whose effective
// importance exceeds theta_promote move to L2; the threshold adapts
// every PromoteAdjustWindow evictions to keep the promotion rate in
// [PromoteTargetLow, PromoteTargetHigh]. Callers must hold m.mu.
func (m *Manager) maybePromoteLocked(u Unit, now time.Time) {
	m.l1SinceAdjust++
	eff := u.EffectiveImportance(now, m.cfg.ImportanceDecayLambda)
	if eff > m.cfg.PromoteThreshold {
		u.Tier = TierL2
		m.l2 = append(m.l2, u)
		m.l1Promoted++
		m.sortL2Locked()
		m.evictL2OverflowLocked(context.Background())
	}

	if m.l1SinceAdjust >= m.cfg.PromoteAdjustWindow {
		rate := float64(m.l1Promoted) / float64(m.l1SinceAdjust)
		switch {
		case rate < m.cfg.PromoteTargetLow:
			m.cfg.PromoteThreshold -= m.cfg.PromoteAdjustStep
		case rate > m.cfg.PromoteTargetHigh:
			m.cfg.PromoteThreshold += m.cfg.PromoteAdjustStep
		}
		if m.cfg.PromoteThreshold < m.cfg.PromoteThresholdMin {
			m.cfg.PromoteThreshold = m.cfg.PromoteThresholdMin
		}
		if m.cfg.PromoteThreshold > m.cfg.PromoteThresholdMax {
			m.cfg.PromoteThreshold = m.cfg.PromoteThresholdMax
		}
		m.l1SinceAdjust = 0
		m.l1Promoted = 0
	}
}

func (m *Manager) sortL2Locked() {
	sort.SliceStable(m.l2, func(i, j int) bool { return m.l2[i].Importance > m.l2[j].Importance })
}

// evictL2OverflowLocked summarises the lowest-20%-by-importance of L2
// into L3 TaskSummary records when L2 exceeds capacity (§4.4 step 2).
func (m *Manager) evictL2OverflowLocked(ctx context.Context) {
	if len(m.l2) <= m.cfg.L2Capacity {
		return
	}
	overflow := len(m.l2) - m.cfg.L2Capacity
	cut := overflow
	if bottom20 := len(m.l2) / 5; bottom20 > cut {
		cut = bottom20
	}
	if cut > len(m.l2) {
		cut = len(m.l2)
	}

	toSummarize := append([]Unit(nil), m.l2[len(m.l2)-cut:]...)
	m.l2 = m.l2[:len(m.l2)-cut]

	summary, err := m.sum.Summarize(ctx, toSummarize)
	if err != nil {
		m.log.Warn("L2 summarization failed, falling back to rule-based: %v", err)
		summary, _ = RuleBasedSummarizer{}.Summarize(ctx, toSummarize)
	}

	now := time.Now().UTC()
	m.l3 = append(m.l3, Unit{
		UnitID: newUnitID(), Content: summary, Tier: TierL3, Type: UnitSummary,
		Importance: averageImportance(toSummarize), CreatedAt: now, LastAccessed: now,
		Metadata: map[string]any{"source_count": len(toSummarize)},
	})
	m.evictL3OverflowLocked(ctx)
}

func averageImportance(units []Unit) float64 {
	if len(units) == 0 {
		return 0
	}
	var sum float64
	for _, u := range units {
		sum += u.Importance
	}
	return sum / float64(len(units))
}

// evictL3OverflowLocked promotes or drops the oldest 20% of L3 summaries
// to L4 when L3 exceeds capacity (§4.4 step 3). Promotion requires an
// embedding port; without one, the oldest summaries are dropped.
func (m *Manager) evictL3OverflowLocked(ctx context.Context) {
	if len(m.l3) <= m.cfg.L3Capacity {
		return
	}
	sort.SliceStable(m.l3, func(i, j int) bool { return m.l3[i].CreatedAt.Before(m.l3[j].CreatedAt) })

	cut := len(m.l3) / 5
	if cut == 0 {
		cut = len(m.l3) - m.cfg.L3Capacity
	}
	toPromote := append([]Unit(nil), m.l3[:cut]...)
	m.l3 = m.l3[cut:]

	if m.embed == nil || m.vector == nil {
		m.log.Warn("L3 overflow with no embedding/vector port configured; dropping %d summaries", len(toPromote))
		return
	}
	for _, u := range toPromote {
		vec, err := m.embed.Embed(ctx, u.Content)
		if err != nil {
			m.log.Warn("embedding failed for L3->L4 promotion, dropping unit: %v", err)
			continue
		}
		u.Tier = TierL4
		u.Type = UnitFact
		u.Embedding = vec
		if err := m.vector.Upsert(ctx, u.UnitID, vec, map[string]any{"content": u.Content, "created_at": u.CreatedAt}); err != nil {
			m.log.Warn("vector store upsert failed during L3->L4 promotion: %v", err)
		}
	}
}

// PromoteTiers runs end-of-task maintenance: every L1 unit whose
// effective importance exceeds theta_promote moves to L2 (with the usual
// L2/L3 overflow cascade), then L4 is compressed when the fact count
// exceeds the soft cap. Record also promotes a unit at the moment it
// evicts it from L1, so that movement can happen while an iteration is
// still running.
func (m *Manager) PromoteTiers(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	kept := m.l1[:0]
	for _, u := range m.l1 {
		if u.EffectiveImportance(now, m.cfg.ImportanceDecayLambda) > m.cfg.PromoteThreshold {
			u.Tier = TierL2
			m.l2 = append(m.l2, u)
			continue
		}
		kept = append(kept, u)
	}
	m.l1 = kept
	m.sortL2Locked()
	m.evictL2OverflowLocked(ctx)
	m.compressL4Locked(ctx)
}

// L1Len, L2Len, L3Len expose tier sizes for invariant checks.
func (m *Manager) L1Len() int { m.mu.Lock(); defer m.mu.Unlock(); return len(m.l1) }
func (m *Manager) L2Len() int { m.mu.Lock(); defer m.mu.Unlock(); return len(m.l2) }
func (m *Manager) L3Len() int { m.mu.Lock(); defer m.mu.Unlock(); return len(m.l3) }

func (m *Manager) L4Count(ctx context.Context) int {
	if m.vector == nil {
		return 0
	}
	n, err := m.vector.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}
