package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// RuntimeLimits carries the numeric budgets enumerated in spec §6.
type RuntimeLimits struct {
	MaxIterations       int     `mapstructure:"max_iterations"`
	MaxDepth            int     `mapstructure:"max_depth"`
	MaxChildren         int     `mapstructure:"max_children"`
	ContextBudgetTokens int     `mapstructure:"context_budget_tokens"`
	L1Capacity          int     `mapstructure:"l1_capacity"`
	L2Capacity          int     `mapstructure:"l2_capacity"`
	L3Capacity          int     `mapstructure:"l3_capacity"`
	L4SoftCap           int     `mapstructure:"l4_soft_cap"`
	ImportanceDecayLambda float64 `mapstructure:"importance_decay_lambda"`
	ToolCacheTTLMs      int     `mapstructure:"tool_cache_ttl_ms"`
	ToolMaxRetries      int     `mapstructure:"tool_max_retries"`
	DelegationTimeoutMs int     `mapstructure:"delegation_timeout_ms"`
	EmbeddingDim        int     `mapstructure:"embedding_dim"`
}

// DefaultLimits returns spec §6's default configuration options.
func DefaultLimits() RuntimeLimits {
	return RuntimeLimits{
		MaxIterations:         10,
		MaxDepth:              3,
		MaxChildren:           5,
		ContextBudgetTokens:   8000,
		L1Capacity:            50,
		L2Capacity:            100,
		L3Capacity:            500,
		L4SoftCap:             150,
		ImportanceDecayLambda: 0.1,
		ToolCacheTTLMs:        300000,
		ToolMaxRetries:        3,
		DelegationTimeoutMs:   60000,
		EmbeddingDim:          512,
	}
}

// Load builds RuntimeLimits by layering, in increasing precedence:
// built-in defaults, an optional YAML file (configPath, skipped if
// empty or missing), and environment variables prefixed FRACTAL_ (e.g.
// FRACTAL_MAX_ITERATIONS), matching the teacher's file-then-env-then-
// explicit-override layering in internal/config/layered.go.
func Load(configPath string) (RuntimeLimits, error) {
	limits := DefaultLimits()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("fractal")
	v.AutomaticEnv()
	setDefaults(v, limits)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return limits, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(&limits); err != nil {
		return limits, fmt.Errorf("config: unmarshalling runtime limits: %w", err)
	}
	return limits, nil
}

func setDefaults(v *viper.Viper, limits RuntimeLimits) {
	v.SetDefault("max_iterations", limits.MaxIterations)
	v.SetDefault("max_depth", limits.MaxDepth)
	v.SetDefault("max_children", limits.MaxChildren)
	v.SetDefault("context_budget_tokens", limits.ContextBudgetTokens)
	v.SetDefault("l1_capacity", limits.L1Capacity)
	v.SetDefault("l2_capacity", limits.L2Capacity)
	v.SetDefault("l3_capacity", limits.L3Capacity)
	v.SetDefault("l4_soft_cap", limits.L4SoftCap)
	v.SetDefault("importance_decay_lambda", limits.ImportanceDecayLambda)
	v.SetDefault("tool_cache_ttl_ms", limits.ToolCacheTTLMs)
	v.SetDefault("tool_max_retries", limits.ToolMaxRetries)
	v.SetDefault("delegation_timeout_ms", limits.DelegationTimeoutMs)
	v.SetDefault("embedding_dim", limits.EmbeddingDim)
}
