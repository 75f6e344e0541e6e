package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return store
}

func TestLocalPutGetRoundTrip(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "a/b/object", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := store.Get(ctx, "a/b/object")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want hello", data)
	}
}

func TestLocalGetMissing(t *testing.T) {
	store := newLocal(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalPutOverwrites(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ := store.Get(ctx, "k")
	if string(data) != "v2" {
		t.Fatalf("data = %q, want v2", data)
	}
}

func TestLocalListPrefix(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"snapshots/2", "snapshots/1", "other/x"} {
		if err := store.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	keys, err := store.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != "snapshots/1" || keys[1] != "snapshots/2" {
		t.Fatalf("keys = %v, want sorted snapshots only", keys)
	}
}

func TestLocalDeleteIdempotent(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("deleting a missing object should not fail: %v", err)
	}
}

// staticFleet serves a fixed fleet view for archiver tests.
type staticFleet []types.PartitionSnapshot

func (f staticFleet) List() []types.PartitionSnapshot { return f }

func TestSnapshotArchiveRestore(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	fleet := staticFleet{
		{
			Info:   types.PartitionInfo{ID: "p-1", Endpoint: "http://p-1:9000", Weight: 2},
			Active: true,
		},
		{
			Info:     types.PartitionInfo{ID: "p-2", Endpoint: "http://p-2:9000", Weight: 1},
			Active:   true,
			ReadOnly: true,
		},
	}

	arch := NewSnapshotArchiver(store, fleet, 0)
	if err := arch.Archive(ctx); err != nil {
		t.Fatalf("archive: %v", err)
	}

	snap, err := arch.RestoreLatest(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(snap.Partitions) != 2 {
		t.Fatalf("partitions = %d, want 2", len(snap.Partitions))
	}
	if snap.Partitions[1].Info.ID != "p-2" || !snap.Partitions[1].ReadOnly {
		t.Fatalf("restored fleet lost flags: %+v", snap.Partitions[1])
	}
}

func TestRestoreLatestPicksNewest(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	first := staticFleet{{Info: types.PartitionInfo{ID: "p-1"}}}
	second := staticFleet{{Info: types.PartitionInfo{ID: "p-1"}}, {Info: types.PartitionInfo{ID: "p-2"}}}

	if err := NewSnapshotArchiver(store, first, 0).Archive(ctx); err != nil {
		t.Fatalf("archive first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := NewSnapshotArchiver(store, second, 0).Archive(ctx); err != nil {
		t.Fatalf("archive second: %v", err)
	}

	snap, err := NewSnapshotArchiver(store, nil, 0).RestoreLatest(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(snap.Partitions) != 2 {
		t.Fatalf("restored %d partitions, want the 2-partition snapshot", len(snap.Partitions))
	}
}

func TestSnapshotRetention(t *testing.T) {
	store := newLocal(t)
	ctx := context.Background()

	fleet := staticFleet{{Info: types.PartitionInfo{ID: "p-1"}}}
	arch := NewSnapshotArchiver(store, fleet, 2)
	for i := 0; i < 5; i++ {
		if err := arch.Archive(ctx); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	keys, err := store.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("retained %d snapshots, want 2", len(keys))
	}
}

func TestRestoreLatestEmpty(t *testing.T) {
	store := newLocal(t)

	_, err := NewSnapshotArchiver(store, nil, 0).RestoreLatest(context.Background())
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}
