package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/partition"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/router"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

func newTestCore(t *testing.T, opts Options, ids ...types.PartitionID) (*Core, *partition.MemoryFleet) {
	t.Helper()
	fleet := partition.NewMemoryFleet()
	opts.Fleet = fleet
	c, err := New(opts)
	if err != nil {
		t.Fatalf("core: %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	for _, id := range ids {
		if err := c.RegisterPartition(types.PartitionInfo{ID: id, Endpoint: "http://" + string(id) + ":9000"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return c, fleet
}

func TestCreateAndQueryRoundTrip(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1", "p-2")
	ctx := context.Background()

	target, err := c.CreateRecord(ctx, types.Record{ID: "r-1", OwnerKey: "owner-a", Payload: []byte("x")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if target != "p-1" && target != "p-2" {
		t.Fatalf("target = %s", target)
	}

	res, err := c.RouteQuery(ctx, "owner-a", router.Op{Kind: types.OperationList})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].ID != "r-1" {
		t.Fatalf("records = %+v", res.Records)
	}
}

func TestOwnerSticksToItsPartition(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1", "p-2", "p-3")
	ctx := context.Background()

	first, err := c.CreateRecord(ctx, types.Record{ID: "r-1", OwnerKey: "owner-a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		target, err := c.CreateRecord(ctx, types.Record{ID: "r-x", OwnerKey: "owner-a"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if target != first {
			t.Fatalf("owner moved from %s to %s with a healthy home", first, target)
		}
	}
}

func TestOwnerRehomedWhenPartitionReadOnly(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1", "p-2")
	ctx := context.Background()

	first, err := c.CreateRecord(ctx, types.Record{ID: "r-1", OwnerKey: "owner-a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.MarkReadOnly(first); err != nil {
		t.Fatalf("mark read-only: %v", err)
	}

	second, err := c.CreateRecord(ctx, types.Record{ID: "r-2", OwnerKey: "owner-a"})
	if err != nil {
		t.Fatalf("create after drain: %v", err)
	}
	if second == first {
		t.Fatal("new records must not land on a read-only partition")
	}

	// Records on the old partition stay visible through the owner history.
	res, err := c.RouteQuery(ctx, "owner-a", router.Op{Kind: types.OperationList, SortBy: router.SortRecordID})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want both generations", len(res.Records))
	}
}

func TestResolveExistingRecordTarget(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1")
	ctx := context.Background()

	if _, err := c.ResolveExistingRecordTarget("owner-a"); errors.GetCode(err) != errors.CodeNotFound {
		t.Fatalf("unknown owner: err = %v, want NOT_FOUND", err)
	}

	target, err := c.CreateRecord(ctx, types.Record{ID: "r-1", OwnerKey: "owner-a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := c.ResolveExistingRecordTarget("owner-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != target {
		t.Fatalf("resolved %s, want %s", got, target)
	}
}

func TestCreateRequiresOwnerKey(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1")
	if _, err := c.CreateRecord(context.Background(), types.Record{ID: "r-1"}); err == nil {
		t.Fatal("expected error for missing owner key")
	}
}

func TestFailedWritesTripCircuit(t *testing.T) {
	opts := Options{Breaker: breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CoolDown:         time.Minute,
		Window:           time.Minute,
	}}
	c, fleet := newTestCore(t, opts, "p-1")
	ctx := context.Background()

	fleet.SetDown("p-1", true)
	for i := 0; i < 3; i++ {
		if _, err := c.CreateRecord(ctx, types.Record{ID: "r", OwnerKey: "owner-a"}); err == nil {
			t.Fatal("write to a down partition should fail")
		}
	}

	status, ok := c.CircuitStatus("p-1")
	if !ok || status.State != breaker.StateOpen {
		t.Fatalf("circuit = %+v, want open after repeated write failures", status)
	}

	// The only partition is tripped, so assignment has nowhere to go.
	if _, err := c.CreateRecord(ctx, types.Record{ID: "r", OwnerKey: "owner-b"}); err == nil {
		t.Fatal("expected no eligible target while the fleet is tripped")
	}
}

func TestAssignLimitsRecoveryProbes(t *testing.T) {
	opts := Options{Breaker: breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CoolDown:         50 * time.Millisecond,
		Window:           time.Minute,
	}}
	c, fleet := newTestCore(t, opts, "p-1", "p-2")
	ctx := context.Background()

	home, err := c.CreateRecord(ctx, types.Record{ID: "r-1", OwnerKey: "owner-a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	fleet.SetDown(home, true)
	for i := 0; i < 3; i++ {
		if _, err := c.CreateRecord(ctx, types.Record{ID: "r", OwnerKey: "owner-a"}); err == nil {
			t.Fatal("write to a down partition should fail")
		}
	}
	if status, _ := c.CircuitStatus(home); status.State != breaker.StateOpen {
		t.Fatalf("circuit = %s, want open", status.State)
	}

	// The partition recovers and the cool-down elapses, so the breaker is
	// probing. With no outcomes reported, exactly one probe slot exists;
	// every further assignment must rehome instead of piling onto the
	// recovering partition.
	fleet.SetDown(home, false)
	time.Sleep(70 * time.Millisecond)

	assigned := make(map[types.PartitionID]int)
	for i := 0; i < 5; i++ {
		id, err := c.AssignNewRecordTarget("owner-a")
		if err != nil {
			t.Fatalf("assign %d: %v", i, err)
		}
		assigned[id]++
	}
	if assigned[home] > 1 {
		t.Fatalf("half-open partition admitted %d assignments, probe quota is 1", assigned[home])
	}
	if assigned[home]+assigned[otherPartition(home)] != 5 {
		t.Fatalf("assignments = %v", assigned)
	}
}

func otherPartition(id types.PartitionID) types.PartitionID {
	if id == "p-1" {
		return "p-2"
	}
	return "p-1"
}

func TestUpdateStrategyPersistsAcrossRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")

	c, _ := newTestCore(t, Options{StorePath: dbPath}, "p-1")
	cfg := c.BalancerConfig()
	cfg.Strategy = types.StrategyLeastConnections
	if _, err := c.UpdateStrategy(cfg); err != nil {
		t.Fatalf("update strategy: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	reopened, err := New(Options{StorePath: dbPath, Fleet: partition.NewMemoryFleet()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Stop()

	if got := reopened.BalancerConfig().Strategy; got != types.StrategyLeastConnections {
		t.Fatalf("strategy after restart = %s, want least_connections", got)
	}
	if len(reopened.ListPartitions()) != 1 {
		t.Fatal("partitions should be reloaded from the store")
	}
}

func TestBalancerStatsTrackInFlight(t *testing.T) {
	c, _ := newTestCore(t, Options{}, "p-1")

	id, err := c.AssignNewRecordTarget("owner-a")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := c.BalancerStats().InFlight[id]; got != 1 {
		t.Fatalf("in-flight = %d, want 1 before outcome", got)
	}

	c.ReportOutcome(id, true, 5*time.Millisecond)
	if got := c.BalancerStats().InFlight[id]; got != 0 {
		t.Fatalf("in-flight = %d, want 0 after outcome", got)
	}
}
