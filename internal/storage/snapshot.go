package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/snappy"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// snapshotPrefix namespaces archived snapshots inside the store.
const snapshotPrefix = "snapshots/"

// Snapshot is one archived view of the partition fleet.
type Snapshot struct {
	TakenAt    time.Time                 `json:"taken_at"`
	Partitions []types.PartitionSnapshot `json:"partitions"`
}

// FleetSource provides the current fleet view to archive.
type FleetSource interface {
	List() []types.PartitionSnapshot
}

// SnapshotArchiver periodically writes fleet snapshots to an object store.
// Snapshots are JSON, snappy-compressed, keyed by nanosecond timestamp so a
// plain key sort gives chronological order.
type SnapshotArchiver struct {
	store  ObjectStore
	source FleetSource
	keep   int
}

// NewSnapshotArchiver creates an archiver that retains the newest keep
// snapshots (0 means keep everything).
func NewSnapshotArchiver(store ObjectStore, source FleetSource, keep int) *SnapshotArchiver {
	return &SnapshotArchiver{store: store, source: source, keep: keep}
}

// Archive writes the current fleet view and prunes old snapshots.
func (a *SnapshotArchiver) Archive(ctx context.Context) error {
	snap := Snapshot{
		TakenAt:    time.Now().UTC(),
		Partitions: a.source.List(),
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	key := snapshotPrefix + strconv.FormatInt(snap.TakenAt.UnixNano(), 10) + ".json.sz"
	if err := a.store.Put(ctx, key, snappy.Encode(nil, raw)); err != nil {
		return fmt.Errorf("archiving snapshot: %w", err)
	}

	return a.prune(ctx)
}

// RestoreLatest loads the most recent archived snapshot. Returns
// ErrObjectNotFound when no snapshot exists.
func (a *SnapshotArchiver) RestoreLatest(ctx context.Context) (*Snapshot, error) {
	keys, err := a.store.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	if len(keys) == 0 {
		return nil, ErrObjectNotFound
	}

	compressed, err := a.store.Get(ctx, keys[len(keys)-1])
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

func (a *SnapshotArchiver) prune(ctx context.Context) error {
	if a.keep <= 0 {
		return nil
	}
	keys, err := a.store.List(ctx, snapshotPrefix)
	if err != nil {
		return fmt.Errorf("listing snapshots for prune: %w", err)
	}
	for len(keys) > a.keep {
		if err := a.store.Delete(ctx, keys[0]); err != nil {
			return fmt.Errorf("pruning snapshot %s: %w", keys[0], err)
		}
		keys = keys[1:]
	}
	return nil
}
