// Package core wires the routing components together behind one façade.
//
// Callers above this layer (the admin API, the CLI) talk only to Core;
// everything below it (registry, breaker bank, balancer, query router,
// capacity monitor) is an implementation detail of the routing plane.
package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/balancer"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/registry"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/router"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/scaler"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Fleet executes record operations against partition nodes.
type Fleet interface {
	router.Caller
	CreateRecord(ctx context.Context, id types.PartitionID, rec types.Record) error
}

// Options configures a Core.
type Options struct {
	// StorePath is the SQLite database for durable registry state.
	// Empty runs fully in memory.
	StorePath string

	// Fleet executes partition calls. Required.
	Fleet Fleet

	Breaker  breaker.Config
	Balancer types.BalancerConfig
	Router   router.Config
	Scaler   scaler.Config

	// Provisioner enables the capacity monitor when set.
	Provisioner scaler.Provisioner

	// Archiver, when set, snapshots the fleet on every monitor pass.
	Archiver scaler.Archiver

	// OnDecision observes scaling decisions. Optional.
	OnDecision func(scaler.Decision)
}

// Core is the routing plane façade.
type Core struct {
	store    *registry.Store
	registry *registry.Registry
	bank     *breaker.Bank
	balancer *balancer.Balancer
	router   *router.Router
	monitor  *scaler.Monitor
	fleet    Fleet
}

// New assembles a Core from Options. Persisted state (partitions, owner
// index, balancer strategy) is reloaded when StorePath points at an
// existing database.
func New(opts Options) (*Core, error) {
	if opts.Fleet == nil {
		return nil, fmt.Errorf("core: fleet is required")
	}
	if opts.Breaker.FailureThreshold == 0 {
		opts.Breaker = breaker.DefaultConfig()
	}
	if opts.Balancer.Strategy == "" {
		opts.Balancer = types.DefaultBalancerConfig()
	}

	var store *registry.Store
	if opts.StorePath != "" {
		var err error
		store, err = registry.OpenStore(opts.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening registry store: %w", err)
		}
	}

	reg, err := registry.New(store)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	// A persisted strategy beats the configured default: an operator
	// changed it at runtime and expects it to survive restarts.
	balancerCfg := opts.Balancer
	if store != nil {
		saved, err := store.LoadBalancerConfig(context.Background())
		if err != nil {
			log.Printf("core: loading persisted balancer config: %v", err)
		} else if saved != nil {
			balancerCfg = *saved
		}
	}

	bank := breaker.NewBank(opts.Breaker)
	bal, err := balancer.New(reg, bank, balancerCfg)
	if err != nil {
		reg.Close()
		return nil, err
	}

	c := &Core{
		store:    store,
		registry: reg,
		bank:     bank,
		balancer: bal,
		router:   router.New(reg, bank, opts.Fleet, opts.Router),
		fleet:    opts.Fleet,
	}
	if opts.Provisioner != nil {
		c.monitor = scaler.NewMonitor(opts.Scaler, reg, opts.Provisioner, opts.Archiver, opts.OnDecision)
	}
	return c, nil
}

// Start launches background daemons.
func (c *Core) Start(ctx context.Context) error {
	if c.monitor != nil {
		return c.monitor.Start(ctx)
	}
	return nil
}

// Stop shuts down daemons and releases resources.
func (c *Core) Stop() error {
	if c.monitor != nil {
		if err := c.monitor.Stop(); err != nil {
			log.Printf("core: stopping monitor: %v", err)
		}
	}
	c.router.Close()
	return c.registry.Close()
}

// RegisterPartition adds a partition to the fleet.
func (c *Core) RegisterPartition(info types.PartitionInfo) error {
	return c.registry.Register(info)
}

// AssignNewRecordTarget picks the partition that should store a new record
// for the owner. Existing owners stick to their current partition while it
// can take writes; otherwise the balancer picks a new home and the owner
// index is updated. The returned partition has an in-flight slot acquired;
// pair with ReportOutcome.
func (c *Core) AssignNewRecordTarget(ownerKey string) (types.PartitionID, error) {
	if id, ok := c.registry.FindOwner(ownerKey); ok {
		snap, err := c.registry.Get(id)
		// Allow enforces the recovery probe quota: a half-open home admits
		// only its limited probes here, everything past the quota falls
		// through to rehoming.
		if err == nil && snap.Eligible() && c.bank.Allow(id) {
			c.balancer.Acquire(id)
			return id, nil
		}
		// Current home cannot take writes. Rehome the owner; old records
		// stay queryable through the owner history.
		target, err := c.balancer.Select(types.OperationCreate, ownerKey)
		if err != nil {
			return "", err
		}
		if err := c.registry.Migrate(ownerKey, target); err != nil {
			return "", err
		}
		c.noteDecision(scaler.Decision{
			Partition: target,
			Action:    scaler.ActionMigrate,
			Reason:    fmt.Sprintf("owner %s rehomed from %s", ownerKey, id),
		})
		c.balancer.Acquire(target)
		c.router.InvalidateOwner(ownerKey)
		return target, nil
	}

	target, err := c.balancer.Select(types.OperationCreate, ownerKey)
	if err != nil {
		return "", err
	}
	c.registry.RecordOwner(ownerKey, target)
	c.balancer.Acquire(target)
	c.router.InvalidateOwner(ownerKey)
	return target, nil
}

// ResolveExistingRecordTarget returns the partition currently holding the
// owner's records.
func (c *Core) ResolveExistingRecordTarget(ownerKey string) (types.PartitionID, error) {
	id, ok := c.registry.FindOwner(ownerKey)
	if !ok {
		return "", errors.NewRoutingError(errors.CodeNotFound,
			fmt.Sprintf("owner %s has no assigned partition", ownerKey))
	}
	return id, nil
}

// CreateRecord assigns a target partition, writes the record, and feeds the
// outcome back into the breaker and metrics.
func (c *Core) CreateRecord(ctx context.Context, rec types.Record) (types.PartitionID, error) {
	if rec.OwnerKey == "" {
		return "", errors.NewQueryError(errors.CodeInvalidConfig, "record owner key is required")
	}
	target, err := c.AssignNewRecordTarget(rec.OwnerKey)
	if err != nil {
		return "", err
	}

	start := time.Now()
	writeErr := c.fleet.CreateRecord(ctx, target, rec)
	c.ReportOutcome(target, writeErr == nil, time.Since(start))
	if writeErr != nil {
		return "", writeErr
	}
	c.router.InvalidateOwner(rec.OwnerKey)
	return target, nil
}

// RouteQuery aggregates the owner's records across the partition fleet.
func (c *Core) RouteQuery(ctx context.Context, ownerKey string, op router.Op) (*router.Result, error) {
	return c.router.RouteQuery(ctx, ownerKey, op)
}

// ReportOutcome feeds a call outcome back into the breaker bank, the
// balancer's in-flight accounting, and the registry metrics.
func (c *Core) ReportOutcome(id types.PartitionID, success bool, latency time.Duration) {
	c.bank.RecordResult(id, success, latency)
	c.balancer.Release(id)
	c.registry.ApplyOutcome(id, success, latency)
}

// MarkReadOnly removes a partition from new-record assignment.
func (c *Core) MarkReadOnly(id types.PartitionID) error {
	return c.registry.MarkReadOnly(id)
}

// MarkActive returns a partition to full service.
func (c *Core) MarkActive(id types.PartitionID) error {
	return c.registry.MarkActive(id)
}

// UpdateMetrics ingests a partition's reported metrics.
func (c *Core) UpdateMetrics(id types.PartitionID, m types.PartitionMetrics) error {
	return c.registry.UpdateMetrics(id, m)
}

// GetPartition returns one partition's snapshot.
func (c *Core) GetPartition(id types.PartitionID) (types.PartitionSnapshot, error) {
	return c.registry.Get(id)
}

// ListPartitions returns all partitions sorted by identity.
func (c *Core) ListPartitions() []types.PartitionSnapshot {
	return c.registry.List()
}

// CircuitStatus returns the breaker status for a partition. The second
// return is false when no breaker has been created for it yet.
func (c *Core) CircuitStatus(id types.PartitionID) (breaker.Status, bool) {
	return c.bank.Status(id)
}

// BalancerStats returns live balancer counters.
func (c *Core) BalancerStats() balancer.Stats {
	return c.balancer.Stats()
}

// BalancerConfig returns the active strategy configuration.
func (c *Core) BalancerConfig() types.BalancerConfig {
	return c.balancer.Config()
}

// UpdateStrategy switches the balancer configuration at runtime and
// persists it so the choice survives restarts.
func (c *Core) UpdateStrategy(cfg types.BalancerConfig) (types.BalancerConfig, error) {
	applied, err := c.balancer.UpdateConfig(cfg)
	if err != nil {
		return types.BalancerConfig{}, err
	}
	if c.store != nil {
		if err := c.store.SaveBalancerConfig(context.Background(), applied); err != nil {
			log.Printf("core: persisting balancer config: %v", err)
		}
	}
	c.noteDecision(scaler.Decision{
		Action: scaler.ActionRebalance,
		Reason: fmt.Sprintf("strategy set to %s (v%d)", applied.Strategy, applied.Version),
	})
	return applied, nil
}

func (c *Core) noteDecision(d scaler.Decision) {
	if c.monitor == nil {
		return
	}
	c.monitor.Note(d)
}

// ScalingDecisions returns the capacity monitor's recent decision log.
func (c *Core) ScalingDecisions() []scaler.Decision {
	if c.monitor == nil {
		return nil
	}
	return c.monitor.Decisions()
}
