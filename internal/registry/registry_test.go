package registry

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func mustRegister(t *testing.T, r *Registry, id types.PartitionID) {
	t.Helper()
	err := r.Register(types.PartitionInfo{ID: id, Endpoint: "http://" + string(id) + ":9000"})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")

	err := r.Register(types.PartitionInfo{ID: "p-1"})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if errors.GetCode(err) != errors.CodeDuplicateIdentity {
		t.Fatalf("error code = %s, want DUPLICATE_IDENTITY", errors.GetCode(err))
	}
}

func TestAssignIsStableWhileMembershipUnchanged(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")
	mustRegister(t, r, "p-2")
	mustRegister(t, r, "p-3")

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("loan-%d", i)
		first, err := r.Assign(key)
		if err != nil {
			t.Fatalf("assign %s: %v", key, err)
		}
		for j := 0; j < 3; j++ {
			again, _ := r.Assign(key)
			if again != first {
				t.Fatalf("key %s remapped from %s to %s without a membership change", key, first, again)
			}
		}
	}
}

func TestAssignEmptyRegistry(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Assign("any")
	if errors.GetCode(err) != errors.CodeNoEligiblePartition {
		t.Fatalf("error code = %s, want NO_ELIGIBLE_PARTITION", errors.GetCode(err))
	}
}

func TestReadOnlyExcludedFromAssignment(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")
	mustRegister(t, r, "p-2")

	if err := r.MarkReadOnly("p-1"); err != nil {
		t.Fatalf("mark read-only: %v", err)
	}

	for i := 0; i < 100; i++ {
		id, err := r.Assign(fmt.Sprintf("key-%d", i))
		if err != nil {
			t.Fatalf("assign: %v", err)
		}
		if id == "p-1" {
			t.Fatal("read-only partition received a new-record assignment")
		}
	}

	// Reactivation restores eligibility.
	if err := r.MarkActive("p-1"); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	seen := map[types.PartitionID]bool{}
	for i := 0; i < 500; i++ {
		id, _ := r.Assign(fmt.Sprintf("key-%d", i))
		seen[id] = true
	}
	if !seen["p-1"] {
		t.Fatal("reactivated partition never selected")
	}
}

func TestUpdateMetricsUnknownPartition(t *testing.T) {
	r := newTestRegistry(t)
	err := r.UpdateMetrics("ghost", types.PartitionMetrics{})
	if errors.GetCode(err) != errors.CodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", errors.GetCode(err))
	}

	var se *errors.ShardError
	if !stderrors.As(err, &se) {
		t.Fatal("expected a structured ShardError")
	}
}

func TestOwnerIndexSurvivesReadOnlyTransition(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")

	r.RecordOwner("farmer-7", "p-1")
	if err := r.MarkReadOnly("p-1"); err != nil {
		t.Fatalf("mark read-only: %v", err)
	}

	id, ok := r.FindOwner("farmer-7")
	if !ok || id != "p-1" {
		t.Fatalf("FindOwner = (%s, %v), want (p-1, true): ownership is fixed at creation", id, ok)
	}
}

func TestOwnerHistoryAccumulatesAcrossMigration(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")
	mustRegister(t, r, "p-2")

	r.RecordOwner("farmer-7", "p-1")
	if err := r.Migrate("farmer-7", "p-2"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if id, _ := r.FindOwner("farmer-7"); id != "p-2" {
		t.Fatalf("current owner = %s, want p-2", id)
	}

	history := r.OwnerHistory("farmer-7")
	if len(history) != 2 || history[0] != "p-1" || history[1] != "p-2" {
		t.Fatalf("history = %v, want [p-1 p-2]: old partition must stay queryable", history)
	}
}

func TestMigrateUnknownTarget(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")
	r.RecordOwner("farmer-7", "p-1")

	err := r.Migrate("farmer-7", "ghost")
	if errors.GetCode(err) != errors.CodeNotFound {
		t.Fatalf("error code = %s, want NOT_FOUND", errors.GetCode(err))
	}
}

func TestApplyOutcomeFeedsRollingMetrics(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-1")

	r.ApplyOutcome("p-1", true, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		r.ApplyOutcome("p-1", false, 500*time.Millisecond)
	}

	snap, err := r.Get("p-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Metrics.ErrorRate < 0.5 {
		t.Fatalf("error rate = %.2f after repeated failures, want > 0.5", snap.Metrics.ErrorRate)
	}
	if snap.Metrics.AvgLatency <= 100*time.Millisecond {
		t.Fatalf("avg latency = %v, want drift toward 500ms", snap.Metrics.AvgLatency)
	}
}

func TestListSortedAndEligibleFiltered(t *testing.T) {
	r := newTestRegistry(t)
	mustRegister(t, r, "p-3")
	mustRegister(t, r, "p-1")
	mustRegister(t, r, "p-2")
	if err := r.MarkReadOnly("p-2"); err != nil {
		t.Fatalf("mark read-only: %v", err)
	}

	all := r.List()
	if len(all) != 3 {
		t.Fatalf("List returned %d partitions, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Info.ID >= all[i].Info.ID {
			t.Fatal("List must be sorted by partition ID")
		}
	}

	eligible := r.Eligible()
	if len(eligible) != 2 {
		t.Fatalf("Eligible returned %d partitions, want 2", len(eligible))
	}
	for _, s := range eligible {
		if s.Info.ID == "p-2" {
			t.Fatal("read-only partition listed as eligible")
		}
	}
}
