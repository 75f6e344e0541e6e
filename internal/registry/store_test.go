package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePartitionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := types.PartitionSnapshot{
		Info: types.PartitionInfo{
			ID:        "p-1",
			Endpoint:  "http://p-1:9000",
			Weight:    2,
			CreatedAt: created,
		},
		Metrics: types.PartitionMetrics{
			RecordCount:         1200,
			StorageUsedBytes:    1 << 30,
			StorageUsedFraction: 0.42,
			AvgLatency:          35 * time.Millisecond,
			ErrorRate:           0.01,
			UpdatedAt:           created.Add(time.Hour),
		},
		Active:   true,
		ReadOnly: false,
	}

	if err := s.InsertPartition(ctx, snap); err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err := s.LoadPartitions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d partitions, want 1", len(loaded))
	}

	got := loaded[0]
	if got.Info.ID != "p-1" || got.Info.Endpoint != "http://p-1:9000" || got.Info.Weight != 2 {
		t.Fatalf("info mismatch: %+v", got.Info)
	}
	if !got.Info.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", got.Info.CreatedAt, created)
	}
	if got.Metrics.StorageUsedFraction != 0.42 || got.Metrics.AvgLatency != 35*time.Millisecond {
		t.Fatalf("metrics mismatch: %+v", got.Metrics)
	}
	if !got.Active || got.ReadOnly {
		t.Fatalf("flags mismatch: active=%v read_only=%v", got.Active, got.ReadOnly)
	}
}

func TestStoreFlagAndMetricUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := types.PartitionSnapshot{
		Info:   types.PartitionInfo{ID: "p-1", Endpoint: "e", Weight: 1, CreatedAt: time.Now()},
		Active: true,
	}
	if err := s.InsertPartition(ctx, snap); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateFlags(ctx, "p-1", true, true); err != nil {
		t.Fatalf("update flags: %v", err)
	}
	m := types.PartitionMetrics{RecordCount: 9, StorageUsedFraction: 0.9, UpdatedAt: time.Now()}
	if err := s.UpdateMetrics(ctx, "p-1", m); err != nil {
		t.Fatalf("update metrics: %v", err)
	}

	loaded, err := s.LoadPartitions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded[0].ReadOnly {
		t.Fatal("read_only flag not persisted")
	}
	if loaded[0].Metrics.RecordCount != 9 || loaded[0].Metrics.StorageUsedFraction != 0.9 {
		t.Fatalf("metrics not persisted: %+v", loaded[0].Metrics)
	}
}

func TestStoreOwnerIndexRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertOwner(ctx, "farmer-7", "p-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertOwner(ctx, "farmer-7", "p-2"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertOwner(ctx, "farmer-9", "p-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	owners, err := s.LoadOwners(ctx)
	if err != nil {
		t.Fatalf("load owners: %v", err)
	}

	seven := owners["farmer-7"]
	if seven.Current != "p-2" {
		t.Fatalf("farmer-7 current = %s, want p-2", seven.Current)
	}
	if len(seven.History) != 2 {
		t.Fatalf("farmer-7 history = %v, want both partitions", seven.History)
	}
	if owners["farmer-9"].Current != "p-1" {
		t.Fatalf("farmer-9 current = %s, want p-1", owners["farmer-9"].Current)
	}
}

func TestStoreBalancerConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg, err := s.LoadBalancerConfig(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil config before first save")
	}

	saved := types.BalancerConfig{
		Strategy: types.StrategyWeightedRoundRobin,
		Weights:  map[types.PartitionID]uint32{"p-1": 3, "p-2": 1},
		Version:  7,
	}
	if err := s.SaveBalancerConfig(ctx, saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	cfg, err = s.LoadBalancerConfig(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || cfg.Strategy != types.StrategyWeightedRoundRobin || cfg.Version != 7 {
		t.Fatalf("loaded config mismatch: %+v", cfg)
	}
	if cfg.Weights["p-1"] != 3 {
		t.Fatalf("weights not persisted: %+v", cfg.Weights)
	}
}

func TestRegistryReloadsFromStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")

	s, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	r, err := New(s)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	mustRegister(t, r, "p-1")
	mustRegister(t, r, "p-2")
	if err := r.MarkReadOnly("p-2"); err != nil {
		t.Fatalf("mark read-only: %v", err)
	}
	r.RecordOwner("farmer-7", "p-1")
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	r2, err := New(s2)
	if err != nil {
		t.Fatalf("reload registry: %v", err)
	}
	defer r2.Close()

	if len(r2.List()) != 2 {
		t.Fatalf("reloaded %d partitions, want 2", len(r2.List()))
	}
	snap, err := r2.Get("p-2")
	if err != nil {
		t.Fatalf("get p-2: %v", err)
	}
	if !snap.ReadOnly {
		t.Fatal("read_only flag lost across restart")
	}
	if id, ok := r2.FindOwner("farmer-7"); !ok || id != "p-1" {
		t.Fatalf("owner binding lost across restart: (%s, %v)", id, ok)
	}

	// p-2 is read-only, so the rebuilt ring must route everything to p-1.
	for i := 0; i < 50; i++ {
		id, err := r2.Assign(string(rune('a' + i%26)))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if id != "p-1" {
			t.Fatalf("assignment after reload chose %s, want p-1", id)
		}
	}
}
