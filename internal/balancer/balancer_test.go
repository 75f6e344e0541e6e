package balancer

import (
	"fmt"
	"testing"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/registry"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

func testFixture(t *testing.T, cfg types.BalancerConfig, ids ...types.PartitionID) (*Balancer, *registry.Registry, *breaker.Bank) {
	t.Helper()

	reg, err := registry.New(nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for _, id := range ids {
		if err := reg.Register(types.PartitionInfo{ID: id, Endpoint: "http://" + string(id)}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	bank := breaker.NewBank(breaker.Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		CoolDown:         time.Minute,
		Window:           time.Minute,
	})

	b, err := New(reg, bank, cfg)
	if err != nil {
		t.Fatalf("balancer: %v", err)
	}
	return b, reg, bank
}

func TestRoundRobinFairness(t *testing.T) {
	cfg := types.DefaultBalancerConfig()
	b, _, _ := testFixture(t, cfg, "p-1", "p-2", "p-3")

	counts := map[types.PartitionID]int{}
	for i := 0; i < 300; i++ {
		id, err := b.Select(types.OperationCreate, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[id]++
	}

	for _, id := range []types.PartitionID{"p-1", "p-2", "p-3"} {
		if counts[id] < 99 || counts[id] > 101 {
			t.Fatalf("partition %s chosen %d times, want 100 ±1", id, counts[id])
		}
	}
}

func TestWeightedRoundRobinProportions(t *testing.T) {
	cfg := types.BalancerConfig{
		Strategy: types.StrategyWeightedRoundRobin,
		Weights:  map[types.PartitionID]uint32{"p-1": 3, "p-2": 1},
		Version:  1,
	}
	b, _, _ := testFixture(t, cfg, "p-1", "p-2")

	counts := map[types.PartitionID]int{}
	for i := 0; i < 400; i++ {
		id, err := b.Select(types.OperationCreate, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[id]++
	}

	if counts["p-1"] != 300 || counts["p-2"] != 100 {
		t.Fatalf("weighted selections = %v, want p-1:300 p-2:100", counts)
	}
}

func TestWeightZeroExcludesCandidate(t *testing.T) {
	cfg := types.BalancerConfig{
		Strategy: types.StrategyWeightedRoundRobin,
		Weights:  map[types.PartitionID]uint32{"p-1": 0},
		Version:  1,
	}
	b, _, _ := testFixture(t, cfg, "p-1", "p-2")

	for i := 0; i < 20; i++ {
		id, err := b.Select(types.OperationCreate, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if id == "p-1" {
			t.Fatal("zero-weight partition selected")
		}
	}
}

func TestAllZeroWeightsUnavailable(t *testing.T) {
	cfg := types.BalancerConfig{
		Strategy: types.StrategyWeightedRoundRobin,
		Weights:  map[types.PartitionID]uint32{"p-1": 0, "p-2": 0},
		Version:  1,
	}
	b, _, _ := testFixture(t, cfg, "p-1", "p-2")

	_, err := b.Select(types.OperationCreate, "")
	if errors.GetCode(err) != errors.CodeServiceUnavailable {
		t.Fatalf("error code = %s, want SERVICE_UNAVAILABLE", errors.GetCode(err))
	}
}

func TestLeastConnectionsPrefersIdle(t *testing.T) {
	cfg := types.BalancerConfig{Strategy: types.StrategyLeastConnections, Version: 1}
	b, _, _ := testFixture(t, cfg, "p-1", "p-2")

	b.Acquire("p-1")
	b.Acquire("p-1")
	b.Acquire("p-2")

	id, err := b.Select(types.OperationCreate, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if id != "p-2" {
		t.Fatalf("selected %s, want p-2 with fewer in-flight calls", id)
	}

	// Equal counts break toward the smaller identity.
	b.Acquire("p-2")
	id, _ = b.Select(types.OperationCreate, "")
	if id != "p-1" {
		t.Fatalf("tie broke to %s, want p-1", id)
	}
}

func TestResourceBasedPrefersLeastLoaded(t *testing.T) {
	cfg := types.BalancerConfig{
		Strategy:      types.StrategyResourceBased,
		StorageWeight: 0.7,
		LatencyWeight: 0.3,
		Version:       1,
	}
	b, reg, _ := testFixture(t, cfg, "p-1", "p-2")

	if err := reg.UpdateMetrics("p-1", types.PartitionMetrics{
		StorageUsedFraction: 0.9,
		AvgLatency:          200 * time.Millisecond,
	}); err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if err := reg.UpdateMetrics("p-2", types.PartitionMetrics{
		StorageUsedFraction: 0.2,
		AvgLatency:          40 * time.Millisecond,
	}); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	id, err := b.Select(types.OperationCreate, "")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if id != "p-2" {
		t.Fatalf("selected %s, want the lightly loaded p-2", id)
	}
}

func TestOpenCircuitExcludedFromSelection(t *testing.T) {
	cfg := types.DefaultBalancerConfig()
	b, _, bank := testFixture(t, cfg, "p-1", "p-2", "p-3")

	for i := 0; i < 3; i++ {
		bank.RecordResult("p-2", false, time.Millisecond)
	}
	if bank.State("p-2") != breaker.StateOpen {
		t.Fatal("p-2 breaker should be open")
	}

	for i := 0; i < 50; i++ {
		id, err := b.Select(types.OperationCreate, "")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if id == "p-2" {
			t.Fatal("partition with open circuit was selected")
		}
	}
}

func TestAllCircuitsOpenUnavailable(t *testing.T) {
	cfg := types.DefaultBalancerConfig()
	b, _, bank := testFixture(t, cfg, "p-1", "p-2")

	for _, id := range []types.PartitionID{"p-1", "p-2"} {
		for i := 0; i < 3; i++ {
			bank.RecordResult(id, false, time.Millisecond)
		}
	}

	_, err := b.Select(types.OperationCreate, "")
	if errors.GetCode(err) != errors.CodeServiceUnavailable {
		t.Fatalf("error code = %s, want SERVICE_UNAVAILABLE", errors.GetCode(err))
	}

	if b.Stats().Unavailable == 0 {
		t.Fatal("unavailable counter not incremented")
	}
}

func TestConsistentHashAffinity(t *testing.T) {
	cfg := types.BalancerConfig{Strategy: types.StrategyConsistentHash, Version: 1}
	b, _, _ := testFixture(t, cfg, "p-1", "p-2", "p-3")

	for i := 0; i < 20; i++ {
		owner := fmt.Sprintf("farmer-%d", i)
		first, err := b.Select(types.OperationRead, owner)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		for j := 0; j < 5; j++ {
			again, _ := b.Select(types.OperationRead, owner)
			if again != first {
				t.Fatalf("owner %s landed on %s then %s", owner, first, again)
			}
		}
	}
}

func TestUpdateConfigBumpsVersion(t *testing.T) {
	b, _, _ := testFixture(t, types.DefaultBalancerConfig(), "p-1")

	updated, err := b.UpdateConfig(types.BalancerConfig{Strategy: types.StrategyLeastConnections})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version <= 1 {
		t.Fatalf("version = %d, want > 1", updated.Version)
	}
	if b.Config().Strategy != types.StrategyLeastConnections {
		t.Fatalf("strategy = %s, want least_connections", b.Config().Strategy)
	}
}

func TestUpdateConfigRejectsUnknownStrategy(t *testing.T) {
	b, _, _ := testFixture(t, types.DefaultBalancerConfig(), "p-1")

	_, err := b.UpdateConfig(types.BalancerConfig{Strategy: "random"})
	if errors.GetCode(err) != errors.CodeInvalidConfig {
		t.Fatalf("error code = %s, want INVALID_CONFIG", errors.GetCode(err))
	}
}
