package types

import "fmt"

// Strategy selects the load-balancing algorithm applied at call time.
type Strategy string

const (
	// StrategyRoundRobin cycles through eligible partitions in a stable order
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyWeightedRoundRobin visits partitions proportionally to their
	// configured weights
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"

	// StrategyLeastConnections selects the partition with the fewest in-flight
	// calls
	StrategyLeastConnections Strategy = "least_connections"

	// StrategyResourceBased selects the partition with the lowest combined
	// storage-usage and latency score
	StrategyResourceBased Strategy = "resource_based"

	// StrategyConsistentHash delegates to the assignment function so that
	// repeat calls for the same key land on the same partition
	StrategyConsistentHash Strategy = "consistent_hash"
)

// Valid reports whether the strategy is one of the supported variants.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections,
		StrategyResourceBased, StrategyConsistentHash:
		return true
	}
	return false
}

// BalancerConfig holds the admin-mutable load-balancer configuration.
// Configs are versioned so in-flight selections operate on a consistent
// snapshot while an update is applied.
type BalancerConfig struct {
	// Strategy is the active selection algorithm
	Strategy Strategy `json:"strategy" yaml:"strategy"`

	// Weights maps partition IDs to relative weights for weighted round-robin.
	// A weight of 0 excludes the partition without unregistering it. Partitions
	// absent from the map default to weight 1.
	Weights map[PartitionID]uint32 `json:"weights,omitempty" yaml:"weights,omitempty"`

	// StorageWeight and LatencyWeight combine into the resource-based score:
	// score = StorageWeight*storage_fraction + LatencyWeight*normalized_latency.
	StorageWeight float64 `json:"storage_weight" yaml:"storage_weight"`
	LatencyWeight float64 `json:"latency_weight" yaml:"latency_weight"`

	// Version is incremented on each accepted update
	Version int64 `json:"version" yaml:"version"`
}

// DefaultBalancerConfig returns the default round-robin configuration.
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Strategy:      StrategyRoundRobin,
		StorageWeight: 0.7,
		LatencyWeight: 0.3,
		Version:       1,
	}
}

// Validate checks the configuration for internal consistency.
func (c *BalancerConfig) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("balancer config: unsupported strategy %q", c.Strategy)
	}
	if c.Strategy == StrategyResourceBased {
		if c.StorageWeight < 0 || c.LatencyWeight < 0 {
			return fmt.Errorf("balancer config: score weights must be non-negative")
		}
		if c.StorageWeight == 0 && c.LatencyWeight == 0 {
			return fmt.Errorf("balancer config: at least one score weight must be positive")
		}
	}
	return nil
}
