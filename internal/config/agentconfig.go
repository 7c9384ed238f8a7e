// Package config defines the immutable AgentConfig (spec §3) and the
// layered loader that produces RuntimeLimits for a run.
package config

// AgentConfig is an immutable, inheritable configuration record carried
// by every agent node. A child agent's config is always derived from its
// parent's via Inherit, never constructed from scratch.
type AgentConfig struct {
	EnabledSkills map[string]struct{}
	EnabledTools  map[string]struct{}

	MaxIterations int
	MaxDepth      int
	MaxChildren   int
	ContextBudget int

	Strategy Strategy
}

// Strategy carries the ReAct loop's tunable flags.
type Strategy struct {
	Temperature    float64
	SynthesisMode  string // "concatenate", "json_merge", "llm_narrative"
	AllowSandbox   bool
}

// New builds a root AgentConfig enabling the given skills and tools,
// with numeric limits copied from limits.
func New(enabledSkills, enabledTools []string, limits RuntimeLimits) AgentConfig {
	return AgentConfig{
		EnabledSkills: toSet(enabledSkills),
		EnabledTools:  toSet(enabledTools),
		MaxIterations: limits.MaxIterations,
		MaxDepth:      limits.MaxDepth,
		MaxChildren:   limits.MaxChildren,
		ContextBudget: limits.ContextBudgetTokens,
		Strategy:      Strategy{Temperature: 0.2, SynthesisMode: "concatenate"},
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

// Inherit derives a child AgentConfig from parent: add_skills/remove_skills
// and add_tools/remove_tools are applied on top of the parent's enabled
// sets, per spec §3's `AgentConfig.inherit`. The numeric limits and
// strategy flags are copied unchanged; the fractal orchestrator is
// responsible for the depth+1==max_depth mandatory removal of
// "delegate_task" (spec §4.7), not this function.
func Inherit(parent AgentConfig, addSkills, removeSkills, addTools, removeTools []string) AgentConfig {
	child := AgentConfig{
		EnabledSkills: cloneSet(parent.EnabledSkills),
		EnabledTools:  cloneSet(parent.EnabledTools),
		MaxIterations: parent.MaxIterations,
		MaxDepth:      parent.MaxDepth,
		MaxChildren:   parent.MaxChildren,
		ContextBudget: parent.ContextBudget,
		Strategy:      parent.Strategy,
	}
	for _, s := range removeSkills {
		delete(child.EnabledSkills, s)
	}
	for _, s := range addSkills {
		child.EnabledSkills[s] = struct{}{}
	}
	for _, t := range removeTools {
		delete(child.EnabledTools, t)
	}
	for _, t := range addTools {
		child.EnabledTools[t] = struct{}{}
	}
	return child
}

// RemoveTool returns a copy of cfg with toolName no longer enabled, used
// by the fractal orchestrator to enforce the depth+1==max_depth removal
// of delegate_task without going through the full Inherit call.
func RemoveTool(cfg AgentConfig, toolName string) AgentConfig {
	cfg.EnabledTools = cloneSet(cfg.EnabledTools)
	delete(cfg.EnabledTools, toolName)
	return cfg
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}
