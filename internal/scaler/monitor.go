// Package scaler watches partition metrics and reshapes capacity.
//
// The monitor runs as a background daemon. Each pass it inspects every
// eligible partition against the configured thresholds; a partition over
// any threshold is replaced: a fresh partition is provisioned and
// registered first, and only then is the full one marked read-only. The
// ordering matters: marking read-only before replacement capacity exists
// could leave the ring empty.
package scaler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/errors"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/registry"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Action is the kind of capacity change a decision records.
type Action string

const (
	ActionCreatePartition Action = "create-partition"
	ActionMarkReadOnly    Action = "mark-read-only"

	// ActionMigrate and ActionRebalance are recorded through Note by the
	// routing layer, not emitted by the monitor itself.
	ActionMigrate   Action = "migrate"
	ActionRebalance Action = "rebalance"
)

// Decision is one entry in the scaling decision log.
type Decision struct {
	Partition types.PartitionID `json:"partition"`
	Action    Action            `json:"action"`
	Reason    string            `json:"reason"`
	At        time.Time         `json:"at"`
}

// Config holds the monitor thresholds and cadence.
type Config struct {
	// CheckInterval is how often the monitor evaluates the fleet.
	CheckInterval time.Duration

	// StorageHighWater is the used-storage fraction that triggers scaling.
	StorageHighWater float64

	// RecordSoftCap is the record count that triggers scaling.
	RecordSoftCap int64

	// LatencyThreshold is the sustained average latency that triggers scaling.
	LatencyThreshold time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:    30 * time.Second,
		StorageHighWater: 0.85,
		RecordSoftCap:    10_000_000,
		LatencyThreshold: 250 * time.Millisecond,
	}
}

// Archiver persists a registry snapshot out of band. Optional.
type Archiver interface {
	Archive(ctx context.Context) error
}

const decisionLogCap = 64

// Monitor is the capacity monitoring daemon.
type Monitor struct {
	config      Config
	registry    *registry.Registry
	provisioner Provisioner
	archiver    Archiver
	onDecision  func(Decision)

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	decisions []Decision
}

// NewMonitor creates a capacity monitor. archiver and onDecision may be nil.
func NewMonitor(config Config, reg *registry.Registry, prov Provisioner, archiver Archiver, onDecision func(Decision)) *Monitor {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	if config.StorageHighWater <= 0 || config.StorageHighWater > 1 {
		config.StorageHighWater = DefaultConfig().StorageHighWater
	}
	return &Monitor{
		config:      config,
		registry:    reg,
		provisioner: prov,
		archiver:    archiver,
		onDecision:  onDecision,
	}
}

// Start begins the monitoring loop. It runs until the context is cancelled
// or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("scaler: monitor is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop gracefully stops the monitor.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.cancel()
	<-m.done
	m.running = false
	return nil
}

// Note appends an externally made capacity decision to the log.
func (m *Monitor) Note(d Decision) {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	m.record(d)
}

// Decisions returns the recent decision log, oldest first.
func (m *Monitor) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.RunOnce(ctx)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single monitoring pass. Exposed so callers can force
// an immediate evaluation.
func (m *Monitor) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	for _, snap := range m.registry.Eligible() {
		if ctx.Err() != nil {
			return
		}
		reason, triggered := m.evaluate(snap)
		if !triggered {
			continue
		}
		if err := m.scaleOut(ctx, snap.Info.ID, reason); err != nil {
			log.Printf("scaler: scale-out for %s failed: %v", snap.Info.ID, err)
			// The full partition stays writable. Next pass retries.
		}
	}

	if m.archiver != nil && ctx.Err() == nil {
		if err := m.archiver.Archive(ctx); err != nil {
			log.Printf("scaler: snapshot archival failed: %v", err)
		}
	}
}

// evaluate reports whether a partition is over any scaling threshold.
func (m *Monitor) evaluate(snap types.PartitionSnapshot) (string, bool) {
	metrics := snap.Metrics
	if metrics.UpdatedAt.IsZero() {
		return "", false
	}
	if metrics.StorageUsedFraction >= m.config.StorageHighWater {
		return fmt.Sprintf("storage fraction %.2f over high water %.2f",
			metrics.StorageUsedFraction, m.config.StorageHighWater), true
	}
	if m.config.RecordSoftCap > 0 && metrics.RecordCount >= m.config.RecordSoftCap {
		return fmt.Sprintf("record count %d over soft cap %d",
			metrics.RecordCount, m.config.RecordSoftCap), true
	}
	if m.config.LatencyThreshold > 0 && metrics.AvgLatency >= m.config.LatencyThreshold {
		return fmt.Sprintf("average latency %s over threshold %s",
			metrics.AvgLatency, m.config.LatencyThreshold), true
	}
	return "", false
}

// scaleOut replaces a full partition. Replacement capacity must be live in
// the registry before the full partition leaves the write set.
func (m *Monitor) scaleOut(ctx context.Context, full types.PartitionID, reason string) error {
	if m.provisioner == nil {
		return errors.NewScalingError(errors.CodeProvisionFailed,
			"no provisioner configured", nil)
	}

	if id, ok := m.pendingPlaceholder(); ok {
		log.Printf("scaler: placeholder %s still awaits an endpoint, not provisioning for %s", id, full)
		return nil
	}

	newID := NewPartitionID()
	info, err := m.provisioner.Provision(ctx, newID)
	if err != nil {
		return errors.NewScalingError(errors.CodeProvisionFailed,
			"provisioning replacement partition", err)
	}
	if info.ID == "" {
		info.ID = newID
	}
	if err := m.registry.Register(info); err != nil {
		return errors.NewScalingError(errors.CodeProvisionFailed,
			"registering replacement partition", err)
	}
	m.record(Decision{Partition: info.ID, Action: ActionCreatePartition, Reason: reason, At: time.Now()})
	log.Printf("scaler: provisioned %s to relieve %s (%s)", info.ID, full, reason)

	if info.Endpoint == "" {
		// The provisioner handed back a partition with no record service
		// behind it. Park it read-only so nothing routes to it, and keep
		// the full partition in the write set: a parked placeholder is not
		// replacement capacity. The operator attaches an endpoint and marks
		// it active.
		if err := m.registry.MarkReadOnly(info.ID); err != nil {
			return errors.NewScalingError(errors.CodeProvisionFailed,
				"parking placeholder partition", err)
		}
		log.Printf("scaler: parked placeholder %s read-only until an endpoint is attached", info.ID)
		return nil
	}

	if err := m.registry.MarkReadOnly(full); err != nil {
		// Replacement is live either way; the full partition just keeps
		// taking writes until the next pass.
		return errors.NewScalingError(errors.CodeProvisionFailed,
			"marking full partition read-only", err)
	}
	m.record(Decision{Partition: full, Action: ActionMarkReadOnly, Reason: reason, At: time.Now()})
	log.Printf("scaler: marked %s read-only (%s)", full, reason)
	return nil
}

// pendingPlaceholder reports a registered partition that is still waiting
// for an operator to attach an endpoint. While one exists, provisioning
// more would only pile up parked partitions.
func (m *Monitor) pendingPlaceholder() (types.PartitionID, bool) {
	for _, snap := range m.registry.List() {
		if snap.Info.Endpoint == "" && snap.Active && snap.ReadOnly {
			return snap.Info.ID, true
		}
	}
	return "", false
}

func (m *Monitor) record(d Decision) {
	m.mu.Lock()
	m.decisions = append(m.decisions, d)
	if len(m.decisions) > decisionLogCap {
		m.decisions = m.decisions[len(m.decisions)-decisionLogCap:]
	}
	m.mu.Unlock()
	if m.onDecision != nil {
		m.onDecision(d)
	}
}
