// Package balancer selects an optimal partition for an operation among the
// eligible (active, writable, circuit-admitted) partitions.
//
// The strategy set is closed: the supported algorithms are enumerated by
// types.Strategy and dispatched in a single switch, selected by a versioned
// configuration snapshot so in-flight selections never observe a half-applied
// update.
package balancer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/registry"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Stats is a point-in-time view of balancer activity for admin callers.
type Stats struct {
	Strategy    types.Strategy              `json:"strategy"`
	Version     int64                       `json:"version"`
	Selections  map[types.PartitionID]int64 `json:"selections"`
	InFlight    map[types.PartitionID]int64 `json:"in_flight"`
	Unavailable int64                       `json:"unavailable"`
}

// Balancer picks partitions for new operations.
type Balancer struct {
	registry *registry.Registry
	bank     *breaker.Bank

	cfg atomic.Pointer[types.BalancerConfig]

	// rr is the shared round-robin cursor.
	rr atomic.Uint64

	// wrr holds the smooth weighted round-robin state.
	wrrMu      sync.Mutex
	wrrCurrent map[types.PartitionID]int64

	inflight    *xsync.MapOf[types.PartitionID, *atomic.Int64]
	selections  *xsync.MapOf[types.PartitionID, *atomic.Int64]
	unavailable atomic.Int64
}

// New creates a balancer over the given registry and breaker bank.
func New(reg *registry.Registry, bank *breaker.Bank, cfg types.BalancerConfig) (*Balancer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryInternal, errors.CodeInvalidConfig,
			"invalid balancer config", err)
	}

	b := &Balancer{
		registry:   reg,
		bank:       bank,
		wrrCurrent: make(map[types.PartitionID]int64),
		inflight:   xsync.NewMapOf[types.PartitionID, *atomic.Int64](),
		selections: xsync.NewMapOf[types.PartitionID, *atomic.Int64](),
	}
	b.cfg.Store(&cfg)
	return b, nil
}

// Select picks a partition for the operation. key is consulted only by the
// consistent-hash strategy; other strategies ignore it.
//
// Candidates are the active, writable partitions whose breaker is Closed.
// HalfOpen partitions are probe-eligible candidates of last resort: they are
// only selected when no Closed candidate exists, and selecting one consumes
// probe quota. When nothing remains the call fails with SERVICE_UNAVAILABLE,
// which is surfaced to the caller and never retried here.
func (b *Balancer) Select(op types.Operation, key string) (types.PartitionID, error) {
	cfg := b.cfg.Load()

	if cfg.Strategy == types.StrategyConsistentHash {
		return b.selectByHash(key)
	}

	var closed, probes []types.PartitionSnapshot
	for _, snap := range b.registry.Eligible() {
		switch b.bank.State(snap.Info.ID) {
		case breaker.StateClosed:
			closed = append(closed, snap)
		case breaker.StateHalfOpen:
			probes = append(probes, snap)
		}
	}

	if len(closed) > 0 {
		id, err := b.pick(cfg, closed)
		if err != nil {
			return "", err
		}
		b.recordSelection(id)
		return id, nil
	}

	// No healthy candidate; admit a probe if any HalfOpen partition has quota.
	for _, snap := range probes {
		if b.bank.Allow(snap.Info.ID) {
			b.recordSelection(snap.Info.ID)
			return snap.Info.ID, nil
		}
	}

	b.unavailable.Add(1)
	return "", errors.NewRoutingError(errors.CodeServiceUnavailable,
		"no partition passes eligibility and circuit gating")
}

// Acquire marks the start of an in-flight call on the partition.
func (b *Balancer) Acquire(id types.PartitionID) {
	b.counter(b.inflight, id).Add(1)
}

// Release marks the end of an in-flight call on the partition.
func (b *Balancer) Release(id types.PartitionID) {
	c := b.counter(b.inflight, id)
	if c.Add(-1) < 0 {
		c.Store(0) // unmatched release, clamp rather than underflow
	}
}

// UpdateConfig swaps in a new configuration. The version is bumped past the
// current one so readers can tell the snapshots apart.
func (b *Balancer) UpdateConfig(cfg types.BalancerConfig) (types.BalancerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return types.BalancerConfig{}, errors.Wrap(errors.ErrCategoryInternal,
			errors.CodeInvalidConfig, "invalid balancer config", err)
	}

	prev := b.cfg.Load()
	if cfg.Version <= prev.Version {
		cfg.Version = prev.Version + 1
	}
	b.cfg.Store(&cfg)

	// Weighted round-robin state belongs to the old weight map.
	b.wrrMu.Lock()
	b.wrrCurrent = make(map[types.PartitionID]int64)
	b.wrrMu.Unlock()

	return cfg, nil
}

// Config returns a copy of the active configuration snapshot.
func (b *Balancer) Config() types.BalancerConfig {
	cfg := *b.cfg.Load()
	if cfg.Weights != nil {
		weights := make(map[types.PartitionID]uint32, len(cfg.Weights))
		for id, w := range cfg.Weights {
			weights[id] = w
		}
		cfg.Weights = weights
	}
	return cfg
}

// Stats returns selection and in-flight counters per partition.
func (b *Balancer) Stats() Stats {
	cfg := b.cfg.Load()
	s := Stats{
		Strategy:    cfg.Strategy,
		Version:     cfg.Version,
		Selections:  make(map[types.PartitionID]int64),
		InFlight:    make(map[types.PartitionID]int64),
		Unavailable: b.unavailable.Load(),
	}
	b.selections.Range(func(id types.PartitionID, c *atomic.Int64) bool {
		s.Selections[id] = c.Load()
		return true
	})
	b.inflight.Range(func(id types.PartitionID, c *atomic.Int64) bool {
		s.InFlight[id] = c.Load()
		return true
	})
	return s
}

// pick dispatches to the configured strategy. candidates is non-empty and
// sorted by partition ID, which every strategy uses for deterministic
// tie-breaking.
func (b *Balancer) pick(cfg *types.BalancerConfig, candidates []types.PartitionSnapshot) (types.PartitionID, error) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Info.ID < candidates[j].Info.ID
	})

	switch cfg.Strategy {
	case types.StrategyRoundRobin:
		return b.pickRoundRobin(candidates), nil
	case types.StrategyWeightedRoundRobin:
		return b.pickWeightedRoundRobin(cfg, candidates)
	case types.StrategyLeastConnections:
		return b.pickLeastConnections(candidates), nil
	case types.StrategyResourceBased:
		return b.pickResourceBased(cfg, candidates), nil
	default:
		return "", errors.New(errors.ErrCategoryInternal, errors.CodeInvalidConfig,
			"unsupported strategy "+string(cfg.Strategy))
	}
}

// selectByHash delegates to the assignment function for owner-affinity
// operations. Affinity cannot move to another partition, so a tripped breaker
// surfaces as CIRCUIT_OPEN instead of falling back.
func (b *Balancer) selectByHash(key string) (types.PartitionID, error) {
	id, err := b.registry.Assign(key)
	if err != nil {
		b.unavailable.Add(1)
		return "", err
	}
	if !b.bank.Allow(id) {
		return "", errors.NewBreakerError(errors.CodeCircuitOpen,
			"circuit open for affinity partition "+string(id))
	}
	b.recordSelection(id)
	return id, nil
}

func (b *Balancer) recordSelection(id types.PartitionID) {
	b.counter(b.selections, id).Add(1)
}

func (b *Balancer) counter(m *xsync.MapOf[types.PartitionID, *atomic.Int64], id types.PartitionID) *atomic.Int64 {
	c, _ := m.LoadOrCompute(id, func() *atomic.Int64 {
		return &atomic.Int64{}
	})
	return c
}
