package breaker

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Bank holds one breaker per partition, created lazily on first use.
// Breakers are independent of each other; the bank only provides lookup.
// State is volatile by design: after a restart every partition starts Closed.
type Bank struct {
	cfg      Config
	breakers *xsync.MapOf[types.PartitionID, *Breaker]
}

// NewBank creates an empty bank whose breakers use the given config.
func NewBank(cfg Config) *Bank {
	return &Bank{
		cfg:      cfg,
		breakers: xsync.NewMapOf[types.PartitionID, *Breaker](),
	}
}

// Get returns the breaker for a partition, creating it if needed.
func (k *Bank) Get(id types.PartitionID) *Breaker {
	b, _ := k.breakers.LoadOrCompute(id, func() *Breaker {
		return New(k.cfg)
	})
	return b
}

// Allow reports whether a call to the partition may proceed.
// See Breaker.Allow for the HalfOpen probe-quota semantics.
func (k *Bank) Allow(id types.PartitionID) bool {
	return k.Get(id).Allow()
}

// RecordResult feeds a call outcome into the partition's breaker.
func (k *Bank) RecordResult(id types.PartitionID, success bool, latency time.Duration) {
	k.Get(id).RecordResult(success, latency)
}

// State returns the partition's current breaker mode. Unknown partitions read
// as Closed without allocating a breaker.
func (k *Bank) State(id types.PartitionID) State {
	if b, ok := k.breakers.Load(id); ok {
		return b.State()
	}
	return StateClosed
}

// Status returns the breaker status for a partition. The second return value
// is false when no breaker exists yet for the partition.
func (k *Bank) Status(id types.PartitionID) (Status, bool) {
	b, ok := k.breakers.Load(id)
	if !ok {
		return Status{}, false
	}
	return b.Status(), true
}

// Remove drops the breaker for a partition, typically after the partition is
// administratively removed.
func (k *Bank) Remove(id types.PartitionID) {
	k.breakers.Delete(id)
}
