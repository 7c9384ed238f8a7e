// Package assembler implements the Context Assembler (C5): priority-
// ordered construction of the message sequence handed to an LLM port,
// under a token budget, with a truncation policy that favours dropping
// low-priority components over corrupting high-priority ones.
package assembler

import (
	"context"
	"fmt"
	"sort"

	"fractal/internal/bus"
	"fractal/internal/memory"
	"fractal/internal/ports"
	"fractal/internal/task"
	"fractal/internal/tokens"
)

// Priority bands from §4.5, highest first.
const (
	PriorityCritical = 100
	PriorityHigh     = 90
	PriorityRecent   = 70
	PriorityMid      = 50
	PriorityOld      = 30
)

// ErrContextOverflow is returned when the priority-100 components alone
// exceed the budget; no partial prompt is ever emitted in that case.
type ErrContextOverflow struct {
	Required int
	Budget   int
}

func (e *ErrContextOverflow) Error() string {
	return fmt.Sprintf("context_overflow: critical components need %d tokens, budget is %d", e.Required, e.Budget)
}

// component is one candidate piece of the final prompt before flattening
// into ports.Message values.
type component struct {
	priority    int
	order       int // insertion order, used as a tie-breaker and for truncation order
	truncatable bool
	role        ports.Role
	content     string
}

func (c component) tokenCount() int { return tokens.Count(c.content) }

// Options configures one Build call.
type Options struct {
	CriticalInstructions string // priority 100, repeated at top and bottom
	RoleSystemPrompt     string // priority 90
	OutputFormat         string // priority 90
	FewShot              []string
	History              []ports.Message // full session history, oldest first
	RecentWindow         int             // how many trailing history messages count as "recent" (default 5)
	MidWindow            int             // how many before that count as "mid" (default 10)
	Task                 *task.Task
	Memory               *memory.Manager
	MemoryQuery          string
	MemoryTopK           int
	Bus                  bus.Bus
	AgentID              string // used for QueryByTarget direct-message injection
	Budget               int
}

// Build constructs the ordered []ports.Message sequence for one LLM call.
// Messages keep the section order collect produces. It never returns a
// partial prompt: when the priority-100 components alone exceed the
// budget it returns ErrContextOverflow and a nil slice.
func Build(ctx context.Context, opts Options) ([]ports.Message, error) {
	comps := collect(ctx, opts)

	critical := 0
	for _, c := range comps {
		if c.priority == PriorityCritical {
			critical += c.tokenCount()
		}
	}
	if opts.Budget > 0 && critical > opts.Budget {
		return nil, &ErrContextOverflow{Required: critical, Budget: opts.Budget}
	}

	comps = truncateToBudget(comps, opts.Budget)

	msgs := make([]ports.Message, 0, len(comps))
	for _, c := range comps {
		if c.content == "" {
			continue
		}
		msgs = append(msgs, ports.Message{Role: c.role, Content: c.content})
	}
	return msgs, nil
}

// collect gathers every configured component in its natural (pre-sort)
// order, tagging each with the insertion index used to break priority
// ties, matching §4.5's "then by insertion order within ties" rule.
func collect(ctx context.Context, opts Options) []component {
	var comps []component
	n := 0
	add := func(priority int, truncatable bool, role ports.Role, content string) {
		if content == "" {
			return
		}
		comps = append(comps, component{priority: priority, order: n, truncatable: truncatable, role: role, content: content})
		n++
	}

	add(PriorityCritical, false, ports.RoleSystem, opts.CriticalInstructions)
	add(PriorityHigh, false, ports.RoleSystem, opts.RoleSystemPrompt)

	if opts.Task != nil {
		snap := opts.Task.Snapshot()
		add(PriorityHigh, false, ports.RoleUser, taskDescription(snap))
	}

	if opts.Memory != nil {
		results := opts.Memory.Retrieve(ctx, opts.MemoryQuery, defaultInt(opts.MemoryTopK, 10), "")
		add(PriorityHigh, true, ports.RoleSystem, memory.SerializeXML(results))
	}

	if opts.Bus != nil && opts.AgentID != "" {
		for _, direct := range opts.Bus.QueryByTarget(opts.AgentID, 0) {
			snap := direct.Snapshot()
			content, _ := snap.Parameters["content"].(string)
			add(PriorityRecent, false, ports.RoleUser, content)
		}
	}

	addHistory(&comps, &n, opts)

	for _, ex := range opts.FewShot {
		add(PriorityMid, false, ports.RoleSystem, ex)
	}

	add(PriorityHigh, false, ports.RoleSystem, opts.OutputFormat)
	add(PriorityCritical, false, ports.RoleSystem, opts.CriticalInstructions)

	return comps
}

func taskDescription(t task.Task) string {
	if content, ok := t.Parameters["content"].(string); ok && content != "" {
		return content
	}
	return fmt.Sprintf("task %s: action=%s", t.TaskID, t.Action)
}

func addHistory(comps *[]component, n *int, opts Options) {
	recent := defaultInt(opts.RecentWindow, 5)
	mid := defaultInt(opts.MidWindow, 10)

	hist := opts.History
	total := len(hist)
	for i, msg := range hist {
		fromEnd := total - i
		priority := PriorityOld
		switch {
		case fromEnd <= recent:
			priority = PriorityRecent
		case fromEnd <= recent+mid:
			priority = PriorityMid
		}
		*comps = append(*comps, component{priority: priority, order: *n, truncatable: true, role: msg.Role, content: msg.Content})
		*n++
	}
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// truncateToBudget drops/shrinks components until total tokens fit
// opts.Budget, working in priority-ascending then insertion order per
// §4.5. Non-truncatable components of priority < 100 may still be
// dropped wholesale; priority-100 components are never touched (their
// combined size was already validated against the budget by the caller).
func truncateToBudget(comps []component, budget int) []component {
	if budget <= 0 {
		return comps
	}

	total := func(cs []component) int {
		sum := 0
		for _, c := range cs {
			sum += c.tokenCount()
		}
		return sum
	}

	if total(comps) <= budget {
		return comps
	}

	ordered := append([]component(nil), comps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority < ordered[j].priority
		}
		return ordered[i].order < ordered[j].order
	})

	kept := append([]component(nil), comps...)
	for _, victim := range ordered {
		if victim.priority == PriorityCritical {
			continue
		}
		if total(kept) <= budget {
			break
		}
		idx := indexOf(kept, victim)
		if idx < 0 {
			continue
		}
		if victim.truncatable {
			overBy := total(kept) - budget
			shrunk := shrink(kept[idx], overBy)
			if shrunk.tokenCount() == 0 {
				kept = append(kept[:idx], kept[idx+1:]...)
			} else {
				kept[idx] = shrunk
			}
		} else {
			kept = append(kept[:idx], kept[idx+1:]...)
		}
	}
	return kept
}

func indexOf(cs []component, target component) int {
	for i, c := range cs {
		if c.order == target.order && c.priority == target.priority && c.content == target.content {
			return i
		}
	}
	return -1
}

// shrink cuts a truncatable component's content down by roughly overBy
// tokens' worth of characters (never negative), used for older history
// lines and the retrieval block per §4.5.
func shrink(c component, overBy int) component {
	keepTokens := c.tokenCount() - overBy
	if keepTokens <= 0 {
		c.content = ""
		return c
	}
	c.content = tokens.TruncateToTokens(c.content, keepTokens)
	return c
}
