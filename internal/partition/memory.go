package partition

import (
	"context"
	"fmt"
	"sync"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// MemoryFleet is an in-process partition fleet. Used for tests and
// single-node development, where real partition nodes would be overkill.
type MemoryFleet struct {
	mu      sync.RWMutex
	records map[types.PartitionID]map[string][]types.Record
	down    map[types.PartitionID]bool
}

// NewMemoryFleet creates an empty in-process fleet.
func NewMemoryFleet() *MemoryFleet {
	return &MemoryFleet{
		records: make(map[types.PartitionID]map[string][]types.Record),
		down:    make(map[types.PartitionID]bool),
	}
}

// ListRecords returns the partition's records for the owner.
func (f *MemoryFleet) ListRecords(ctx context.Context, id types.PartitionID, ownerKey string) ([]types.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.down[id] {
		return nil, errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s is down", id))
	}
	byOwner := f.records[id]
	out := make([]types.Record, len(byOwner[ownerKey]))
	copy(out, byOwner[ownerKey])
	return out, nil
}

// CreateRecord stores a record on a partition.
func (f *MemoryFleet) CreateRecord(ctx context.Context, id types.PartitionID, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[id] {
		return errors.NewRoutingError(errors.CodeServiceUnavailable,
			fmt.Sprintf("partition %s is down", id))
	}
	byOwner, ok := f.records[id]
	if !ok {
		byOwner = make(map[string][]types.Record)
		f.records[id] = byOwner
	}
	byOwner[rec.OwnerKey] = append(byOwner[rec.OwnerKey], rec)
	return nil
}

// SetDown toggles simulated unavailability for a partition.
func (f *MemoryFleet) SetDown(id types.PartitionID, down bool) {
	f.mu.Lock()
	f.down[id] = down
	f.mu.Unlock()
}

// RecordCount returns how many records a partition holds.
func (f *MemoryFleet) RecordCount(id types.PartitionID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, recs := range f.records[id] {
		n += len(recs)
	}
	return n
}
