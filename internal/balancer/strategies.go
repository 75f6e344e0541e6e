package balancer

import (
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// pickRoundRobin cycles through the candidates with a shared cursor, which
// keeps selections within one call of perfectly even for a stable candidate
// set.
func (b *Balancer) pickRoundRobin(candidates []types.PartitionSnapshot) types.PartitionID {
	pos := b.rr.Add(1) - 1
	return candidates[pos%uint64(len(candidates))].Info.ID
}

// pickWeightedRoundRobin implements smooth weighted round-robin: each round
// every candidate's running score grows by its weight and the leader is
// selected and penalized by the total weight. The sequence visits candidates
// proportionally to weight without bursts.
func (b *Balancer) pickWeightedRoundRobin(cfg *types.BalancerConfig, candidates []types.PartitionSnapshot) (types.PartitionID, error) {
	b.wrrMu.Lock()
	defer b.wrrMu.Unlock()

	var total int64
	var best types.PartitionID
	var bestScore int64

	for _, snap := range candidates {
		w := int64(weightFor(cfg, snap.Info.ID))
		if w == 0 {
			// Weight 0 excludes the candidate without unregistering it.
			continue
		}
		total += w

		cur := b.wrrCurrent[snap.Info.ID] + w
		b.wrrCurrent[snap.Info.ID] = cur

		if best == "" || cur > bestScore {
			best = snap.Info.ID
			bestScore = cur
		}
	}

	if best == "" {
		b.unavailable.Add(1)
		return "", errors.NewRoutingError(errors.CodeServiceUnavailable,
			"all candidates carry zero weight")
	}

	b.wrrCurrent[best] -= total
	return best, nil
}

// pickLeastConnections selects the candidate with the fewest in-flight calls.
// Candidates arrive sorted by ID, so equal counts break toward the smaller
// identity deterministically.
func (b *Balancer) pickLeastConnections(candidates []types.PartitionSnapshot) types.PartitionID {
	best := candidates[0].Info.ID
	bestCount := b.inflightCount(best)

	for _, snap := range candidates[1:] {
		if n := b.inflightCount(snap.Info.ID); n < bestCount {
			best = snap.Info.ID
			bestCount = n
		}
	}
	return best
}

// pickResourceBased scores each candidate by a weighted combination of
// storage-used fraction and latency normalized against the slowest candidate,
// and selects the lowest score. Ties break toward the smaller identity.
func (b *Balancer) pickResourceBased(cfg *types.BalancerConfig, candidates []types.PartitionSnapshot) types.PartitionID {
	var maxLatency time.Duration
	for _, snap := range candidates {
		if snap.Metrics.AvgLatency > maxLatency {
			maxLatency = snap.Metrics.AvgLatency
		}
	}

	best := candidates[0].Info.ID
	bestScore := b.resourceScore(cfg, candidates[0], maxLatency)

	for _, snap := range candidates[1:] {
		if score := b.resourceScore(cfg, snap, maxLatency); score < bestScore {
			best = snap.Info.ID
			bestScore = score
		}
	}
	return best
}

func (b *Balancer) resourceScore(cfg *types.BalancerConfig, snap types.PartitionSnapshot, maxLatency time.Duration) float64 {
	normLatency := 0.0
	if maxLatency > 0 {
		normLatency = float64(snap.Metrics.AvgLatency) / float64(maxLatency)
	}
	return cfg.StorageWeight*snap.Metrics.StorageUsedFraction + cfg.LatencyWeight*normLatency
}

func (b *Balancer) inflightCount(id types.PartitionID) int64 {
	if c, ok := b.inflight.Load(id); ok {
		return c.Load()
	}
	return 0
}

// weightFor returns the configured weight for a partition. Partitions absent
// from the weight map default to 1.
func weightFor(cfg *types.BalancerConfig, id types.PartitionID) uint32 {
	if cfg.Weights == nil {
		return 1
	}
	if w, ok := cfg.Weights[id]; ok {
		return w
	}
	return 1
}
