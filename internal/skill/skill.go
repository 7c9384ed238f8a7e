// Package skill implements the Skill Registry (C8): capability metadata
// with a quick-guide/full-document split, lazily-loaded detailed docs,
// and dependency validation against a tool registry.
package skill

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"fractal/internal/tool"
)

// Skill is a metadata entry — knowledge, not an executable (spec §3).
type Skill struct {
	SkillID        string
	Name           string
	Description    string
	Category       string
	Tags           []string
	RequiredTools  []string
	OptionalTools  []string
	QuickGuide     string // short summary; no prompt builder in this module reads it
	DetailedDocRef string // path read lazily via a read-file tool, not preloaded
}

// Registry holds every registered skill, keyed by SkillID.
type Registry struct {
	mu sync.RWMutex
	byID map[string]Skill
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Skill)}
}

// RegisterSkill installs def, replacing any existing skill with the same
// SkillID.
func (r *Registry) RegisterSkill(def Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[def.SkillID] = def
}

// GetSkill returns the skill named id, or ok=false if unregistered.
func (r *Registry) GetSkill(id string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// ListSkills returns every registered skill, sorted by SkillID.
func (r *Registry) ListSkills() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out
}

// FindRelevant ranks skills by a keyword match over name, description,
// and tags, returning only those with at least one hit.
func (r *Registry) FindRelevant(query string) []Skill {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}
	all := r.ListSkills()

	type scored struct {
		skill Skill
		score int
	}
	var candidates []scored
	for _, s := range all {
		haystack := strings.ToLower(s.Name + " " + s.Description + " " + strings.Join(s.Tags, " "))
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{s, hits})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	out := make([]Skill, len(candidates))
	for i, c := range candidates {
		out[i] = c.skill
	}
	return out
}

// ValidateDependencies checks skillID's RequiredTools against registry;
// missing tools are listed in the returned error. The registry keeps no
// availability flag, so the skill stays listed either way. OptionalTools
// are never validated.
func (r *Registry) ValidateDependencies(skillID string, registry *tool.Registry) error {
	s, ok := r.GetSkill(skillID)
	if !ok {
		return fmt.Errorf("skill: unknown skill %q", skillID)
	}
	var missing []string
	for _, name := range s.RequiredTools {
		if _, ok := registry.Get(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("skill %q missing required tools: %s", skillID, strings.Join(missing, ", "))
	}
	return nil
}
