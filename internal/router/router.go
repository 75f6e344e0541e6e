// Package router plans and executes cross-partition queries.
//
// A query for an owner may span every partition that ever held the owner's
// records, including read-only and drained ones. The router fans out to the
// full plan concurrently under a single deadline, merges whatever arrives in
// time, and reports the partitions it could not reach instead of failing the
// whole query.
package router

import (
	"context"
	"sort"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/registry"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Caller executes the actual partition call. Implementations live outside the
// routing core; the wire protocol is the caller's concern.
type Caller interface {
	// ListRecords returns all records held by the partition for the owner.
	ListRecords(ctx context.Context, id types.PartitionID, ownerKey string) ([]types.Record, error)
}

// SortField selects the merge ordering of an aggregated result.
type SortField string

const (
	SortNone      SortField = ""
	SortCreatedAt SortField = "created_at"
	SortRecordID  SortField = "record_id"
)

// Op describes a cross-partition query.
type Op struct {
	Kind       types.Operation `json:"kind"`
	SortBy     SortField       `json:"sort_by,omitempty"`
	Descending bool            `json:"descending,omitempty"`
}

// Result is an aggregated query result. Partial is set when one or more
// partitions in the plan were unreachable; the caller decides whether partial
// data is acceptable.
type Result struct {
	Records     []types.Record      `json:"records"`
	Unreachable []types.PartitionID `json:"unreachable,omitempty"`
	Partial     bool                `json:"partial"`
	FromCache   bool                `json:"from_cache"`

	// Caveat carries the machine-readable code for a degraded result,
	// currently only PARTIAL_AGGREGATION. Empty for complete results.
	Caveat string `json:"caveat,omitempty"`
}

// Config holds router tuning.
type Config struct {
	// FanoutDeadline bounds every cross-partition query. Mandatory: an
	// unbounded wait on a degraded partition must not propagate.
	FanoutDeadline time.Duration

	// CacheTTL is the lifetime of cached full aggregations.
	CacheTTL time.Duration

	// Concurrency bounds the number of simultaneous partition calls per query.
	Concurrency int
}

// DefaultConfig returns the default router tuning.
func DefaultConfig() Config {
	return Config{
		FanoutDeadline: 2 * time.Second,
		CacheTTL:       30 * time.Second,
		Concurrency:    16,
	}
}

// Router executes cross-partition queries.
type Router struct {
	registry *registry.Registry
	bank     *breaker.Bank
	caller   Caller
	cache    *resultCache
	cfg      Config
}

// New creates a router. The cache sweep goroutine runs until Close.
func New(reg *registry.Registry, bank *breaker.Bank, caller Caller, cfg Config) *Router {
	if cfg.FanoutDeadline <= 0 {
		cfg.FanoutDeadline = DefaultConfig().FanoutDeadline
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Router{
		registry: reg,
		bank:     bank,
		caller:   caller,
		cache:    newResultCache(cfg.CacheTTL),
		cfg:      cfg,
	}
}

// RouteQuery aggregates an owner's records across every partition in the
// query plan. A cache hit returns immediately without contacting any
// partition; only complete aggregations are cached.
func (r *Router) RouteQuery(ctx context.Context, ownerKey string, op Op) (*Result, error) {
	plan := r.registry.OwnerHistory(ownerKey)
	if len(plan) == 0 {
		// The owner was never assigned. Not an error by itself.
		return &Result{Records: []types.Record{}}, nil
	}

	key := cacheKey(op, ownerKey)
	if records, ok := r.cache.get(key); ok {
		return &Result{Records: records, FromCache: true}, nil
	}

	merged, unreachable, deadlineHit := r.fanout(ctx, ownerKey, plan)

	succeeded := len(plan) - len(unreachable)
	if succeeded == 0 {
		if deadlineHit {
			return nil, errors.NewQueryError(errors.CodeTimeout,
				"fan-out deadline expired before any partition responded")
		}
		return nil, errors.NewRoutingError(errors.CodeServiceUnavailable,
			"every partition in the query plan was unreachable")
	}

	records := mergeRecords(merged, op)

	if len(unreachable) == 0 {
		r.cache.put(key, ownerKey, records)
		return &Result{Records: records}, nil
	}

	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i] < unreachable[j] })
	return &Result{
		Records:     records,
		Unreachable: unreachable,
		Partial:     true,
		Caveat:      errors.CodePartialAggregation,
	}, nil
}

// InvalidateOwner eagerly drops cached aggregations for an owner. Called on
// any write known to touch the owner key.
func (r *Router) InvalidateOwner(ownerKey string) {
	r.cache.invalidateOwner(ownerKey)
}

// CacheLen returns the number of live cache entries.
func (r *Router) CacheLen() int {
	return r.cache.len()
}

// Close stops the cache sweep goroutine.
func (r *Router) Close() {
	r.cache.stop()
}

// partitionResult carries one partition's contribution out of the fan-out.
type partitionResult struct {
	id      types.PartitionID
	records []types.Record
	err     error
}

// fanout issues one call per planned partition concurrently and collects
// whatever completes before the deadline. Sub-calls still outstanding when
// the deadline expires are abandoned; their partitions count as unreachable
// and their eventual results are discarded.
func (r *Router) fanout(ctx context.Context, ownerKey string, plan []types.PartitionID) (merged []types.Record, unreachable []types.PartitionID, deadlineHit bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FanoutDeadline)
	defer cancel()

	results := make(chan partitionResult, len(plan))
	sem := make(chan struct{}, r.cfg.Concurrency)

	for _, id := range plan {
		go func(id types.PartitionID) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- partitionResult{id: id, err: ctx.Err()}
				return
			}

			if !r.bank.Allow(id) {
				// Fast-fail without touching the partition. No outcome is
				// recorded: no call was issued.
				results <- partitionResult{id: id, err: errors.NewBreakerError(
					errors.CodeCircuitOpen, "circuit open for partition "+string(id))}
				return
			}

			start := time.Now()
			records, err := r.caller.ListRecords(ctx, id, ownerKey)
			latency := time.Since(start)

			success := err == nil
			r.bank.RecordResult(id, success, latency)
			r.registry.ApplyOutcome(id, success, latency)

			results <- partitionResult{id: id, records: records, err: err}
		}(id)
	}

	responded := make(map[types.PartitionID]bool, len(plan))
	for len(responded) < len(plan) {
		select {
		case res := <-results:
			responded[res.id] = true
			if res.err != nil {
				unreachable = append(unreachable, res.id)
			} else {
				merged = append(merged, res.records...)
			}
		case <-ctx.Done():
			deadlineHit = true
			for _, id := range plan {
				if !responded[id] {
					unreachable = append(unreachable, id)
				}
			}
			return merged, unreachable, true
		}
	}
	return merged, unreachable, false
}

func cacheKey(op Op, ownerKey string) string {
	dir := "a"
	if op.Descending {
		dir = "d"
	}
	return string(op.Kind) + "\x00" + string(op.SortBy) + "\x00" + dir + "\x00" + ownerKey
}
