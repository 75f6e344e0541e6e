// Package registry maintains the durable record of all partitions: identity,
// capacity metrics, health flags, and the owner-to-partition index.
//
// The registry is the only shared mutable state besides the breaker bank.
// Partition entries are guarded individually so traffic to unrelated
// partitions never serializes on a global lock; the outer map lock is held
// only for membership changes and lookups.
package registry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/ring"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// outcomeAlpha is the EWMA smoothing factor for call-outcome feedback into
// the rolling latency and error-rate metrics.
const outcomeAlpha = 0.2

// entry is the mutable registry record for one partition.
type entry struct {
	mu       sync.RWMutex
	info     types.PartitionInfo
	metrics  types.PartitionMetrics
	active   bool
	readOnly bool
}

func (e *entry) snapshot() types.PartitionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return types.PartitionSnapshot{
		Info:     e.info,
		Metrics:  e.metrics,
		Active:   e.active,
		ReadOnly: e.readOnly,
	}
}

// ownerBinding tracks which partition currently owns an owner key and every
// partition that ever held records for it. History is append-only so
// cross-partition queries keep including drained and read-only partitions.
type ownerBinding struct {
	mu      sync.RWMutex
	current types.PartitionID
	history []types.PartitionID
}

// Registry is the authoritative view of the partition fleet.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.PartitionID]*entry

	ring   *ring.Ring
	owners *xsync.MapOf[string, *ownerBinding]
	store  *Store // nil for a volatile registry
}

// New creates a registry backed by the given store. A nil store yields a
// purely in-memory registry (used in tests). With a store, previously
// persisted partitions, owner bindings and flags are reloaded and the
// assignment ring is rebuilt from the eligible set.
func New(store *Store) (*Registry, error) {
	r := &Registry{
		entries: make(map[types.PartitionID]*entry),
		ring:    ring.New(0),
		owners:  xsync.NewMapOf[string, *ownerBinding](),
		store:   store,
	}

	if store == nil {
		return r, nil
	}

	ctx := context.Background()

	snaps, err := store.LoadPartitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		e := &entry{
			info:     snap.Info,
			metrics:  snap.Metrics,
			active:   snap.Active,
			readOnly: snap.ReadOnly,
		}
		r.entries[snap.Info.ID] = e
		if snap.Eligible() {
			r.ring.Add(snap.Info.ID, snap.Info.Weight)
		}
	}

	bindings, err := store.LoadOwners(ctx)
	if err != nil {
		return nil, err
	}
	for owner, b := range bindings {
		r.owners.Store(owner, &ownerBinding{current: b.Current, history: b.History})
	}

	return r, nil
}

// Register adds a new partition. The partition starts active and writable.
func (r *Registry) Register(info types.PartitionInfo) error {
	if info.Weight == 0 {
		info.Weight = 1
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now()
	}

	r.mu.Lock()
	if _, exists := r.entries[info.ID]; exists {
		r.mu.Unlock()
		return errors.NewRegistryError(errors.CodeDuplicateIdentity,
			"partition "+string(info.ID)+" is already registered")
	}
	e := &entry{info: info, active: true}
	r.entries[info.ID] = e
	r.mu.Unlock()

	r.ring.Add(info.ID, info.Weight)

	if r.store != nil {
		if err := r.store.InsertPartition(context.Background(), e.snapshot()); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetrics overwrites a partition's rolling metrics. The write is
// idempotent; repeating it with the same metrics has no further effect.
func (r *Registry) UpdateMetrics(id types.PartitionID, m types.PartitionMetrics) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}

	e.mu.Lock()
	e.metrics = m
	e.mu.Unlock()

	r.persistMetrics(id, m)
	return nil
}

// ApplyOutcome folds a single call outcome into the partition's rolling
// latency and error-rate metrics. Unknown partitions are ignored: outcomes
// can legitimately arrive for partitions that were just removed.
func (r *Registry) ApplyOutcome(id types.PartitionID, success bool, latency time.Duration) {
	e, err := r.lookup(id)
	if err != nil {
		return
	}

	failure := 0.0
	if !success {
		failure = 1.0
	}

	e.mu.Lock()
	if e.metrics.AvgLatency == 0 {
		e.metrics.AvgLatency = latency
	} else {
		e.metrics.AvgLatency = time.Duration(
			(1-outcomeAlpha)*float64(e.metrics.AvgLatency) + outcomeAlpha*float64(latency))
	}
	e.metrics.ErrorRate = (1-outcomeAlpha)*e.metrics.ErrorRate + outcomeAlpha*failure
	e.metrics.UpdatedAt = time.Now()
	e.mu.Unlock()
}

// MarkReadOnly stops new-record assignment to the partition. Existing-record
// access is unaffected; the partition stays on the owner index.
func (r *Registry) MarkReadOnly(id types.PartitionID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.readOnly = true
	active := e.active
	e.mu.Unlock()

	r.ring.Remove(id)
	r.persistFlags(id, active, true)
	return nil
}

// MarkActive restores a partition to full eligibility for new-record
// assignment.
func (r *Registry) MarkActive(id types.PartitionID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.active = true
	e.readOnly = false
	weight := e.info.Weight
	e.mu.Unlock()

	r.ring.Add(id, weight)
	r.persistFlags(id, true, false)
	return nil
}

// Assign deterministically maps a key onto an eligible partition. The same
// key maps to the same partition for as long as the eligible set is
// unchanged; membership changes remap only the minimal key fraction.
func (r *Registry) Assign(key string) (types.PartitionID, error) {
	id, ok := r.ring.Locate(key)
	if !ok {
		return "", errors.NewRoutingError(errors.CodeNoEligiblePartition,
			"no active writable partition available for assignment")
	}
	return id, nil
}

// RecordOwner binds an owner key to its partition at assignment time. The
// binding is what keeps a record's partition fixed even after hash-space
// ownership shifts; re-recording an existing pair is a no-op.
func (r *Registry) RecordOwner(ownerKey string, id types.PartitionID) {
	b, _ := r.owners.LoadOrCompute(ownerKey, func() *ownerBinding {
		return &ownerBinding{}
	})

	b.mu.Lock()
	b.current = id
	known := false
	for _, h := range b.history {
		if h == id {
			known = true
			break
		}
	}
	if !known {
		b.history = append(b.history, id)
	}
	b.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertOwner(context.Background(), ownerKey, id); err != nil {
			log.Printf("registry: failed to persist owner binding %s -> %s: %v", ownerKey, id, err)
		}
	}
}

// FindOwner returns the partition currently owning the key. The second
// return value is false when the key was never assigned; per the contract
// that is for the caller to interpret, not an error by itself.
func (r *Registry) FindOwner(ownerKey string) (types.PartitionID, bool) {
	b, ok := r.owners.Load(ownerKey)
	if !ok {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.current == "" {
		return "", false
	}
	return b.current, true
}

// OwnerHistory returns every partition that ever held records for the owner,
// in first-assignment order. Read-only and drained partitions are included;
// omitting them would silently lose data from cross-partition queries.
func (r *Registry) OwnerHistory(ownerKey string) []types.PartitionID {
	b, ok := r.owners.Load(ownerKey)
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.PartitionID, len(b.history))
	copy(out, b.history)
	return out
}

// Migrate moves an owner's current binding to another registered partition.
// This is the only operation that changes ownership after creation. The old
// partition remains in the owner's history so queries keep covering it until
// the external migration actually drains the records.
func (r *Registry) Migrate(ownerKey string, to types.PartitionID) error {
	if _, err := r.lookup(to); err != nil {
		return err
	}
	b, ok := r.owners.Load(ownerKey)
	if !ok {
		return errors.NewRegistryError(errors.CodeNotFound,
			"owner "+ownerKey+" has no partition binding")
	}

	b.mu.Lock()
	b.current = to
	known := false
	for _, h := range b.history {
		if h == to {
			known = true
			break
		}
	}
	if !known {
		b.history = append(b.history, to)
	}
	b.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertOwner(context.Background(), ownerKey, to); err != nil {
			log.Printf("registry: failed to persist migration of %s to %s: %v", ownerKey, to, err)
		}
	}
	return nil
}

// Get returns a snapshot of one partition.
func (r *Registry) Get(id types.PartitionID) (types.PartitionSnapshot, error) {
	e, err := r.lookup(id)
	if err != nil {
		return types.PartitionSnapshot{}, err
	}
	return e.snapshot(), nil
}

// List returns snapshots of all partitions sorted by ID.
func (r *Registry) List() []types.PartitionSnapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	snaps := make([]types.PartitionSnapshot, 0, len(entries))
	for _, e := range entries {
		snaps = append(snaps, e.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Info.ID < snaps[j].Info.ID })
	return snaps
}

// Eligible returns snapshots of the partitions accepting new-record
// assignment, sorted by ID for deterministic downstream tie-breaking.
func (r *Registry) Eligible() []types.PartitionSnapshot {
	all := r.List()
	out := all[:0]
	for _, s := range all {
		if s.Eligible() {
			out = append(out, s)
		}
	}
	return out
}

// Ring exposes the assignment ring for the consistent-hash balancer strategy.
func (r *Registry) Ring() *ring.Ring {
	return r.ring
}

// Close releases the backing store, if any.
func (r *Registry) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Registry) lookup(id types.PartitionID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewRegistryError(errors.CodeNotFound,
			"unknown partition "+string(id))
	}
	return e, nil
}

// persistMetrics and persistFlags write through to the store. Failures are
// logged, not returned: the in-memory registry already moved on, and routing
// correctness does not depend on the durable copy being current.

func (r *Registry) persistMetrics(id types.PartitionID, m types.PartitionMetrics) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateMetrics(context.Background(), id, m); err != nil {
		log.Printf("registry: failed to persist metrics for %s: %v", id, err)
	}
}

func (r *Registry) persistFlags(id types.PartitionID, active, readOnly bool) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateFlags(context.Background(), id, active, readOnly); err != nil {
		log.Printf("registry: failed to persist flags for %s: %v", id, err)
	}
}
