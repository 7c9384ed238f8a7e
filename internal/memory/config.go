package memory

// Config carries the numeric budgets and policy knobs from spec §6/§4.4.
type Config struct {
	L1Capacity int // default 50
	L2Capacity int // default 100
	L3Capacity int // default 500
	L4SoftCap  int // default 150

	ImportanceDecayLambda float64 // default 0.1

	PromoteThreshold    float64 // theta_promote, default 0.6
	PromoteThresholdMin float64 // default 0.4
	PromoteThresholdMax float64 // default 0.9
	PromoteAdjustStep   float64 // default 0.05, applied every PromoteAdjustWindow items
	PromoteAdjustWindow int     // default 100
	PromoteTargetLow    float64 // default 0.20 (20%)
	PromoteTargetHigh   float64 // default 0.30 (30%)

	ClusterSimilarityThreshold float64 // theta_cluster, default 0.75
	ClusterMinSize             int     // default 3

	EmbeddingDim int // default 512
}

// DefaultConfig returns the spec's default numeric budgets.
func DefaultConfig() Config {
	return Config{
		L1Capacity:                 50,
		L2Capacity:                 100,
		L3Capacity:                 500,
		L4SoftCap:                  150,
		ImportanceDecayLambda:      0.1,
		PromoteThreshold:           0.6,
		PromoteThresholdMin:        0.4,
		PromoteThresholdMax:        0.9,
		PromoteAdjustStep:          0.05,
		PromoteAdjustWindow:        100,
		PromoteTargetLow:           0.20,
		PromoteTargetHigh:          0.30,
		ClusterSimilarityThreshold: 0.75,
		ClusterMinSize:             3,
		EmbeddingDim:               512,
	}
}
