package types

import "time"

// PartitionID is the opaque, stable handle of a single storage partition.
type PartitionID string

// PartitionInfo holds the immutable identity of a partition.
type PartitionInfo struct {
	// ID uniquely identifies the partition
	ID PartitionID `json:"id"`

	// Endpoint is the opaque address of the partition's record service
	Endpoint string `json:"endpoint"`

	// Weight is the relative traffic share for weighted assignment (0 excludes
	// the partition from weighted selection without unregistering it)
	Weight uint32 `json:"weight"`

	// CreatedAt is when the partition was provisioned
	CreatedAt time.Time `json:"created_at"`
}

// PartitionMetrics holds the rolling capacity and performance metrics of a
// partition. Metrics are overwritten idempotently by the capacity monitor and
// adjusted incrementally by call-outcome feedback.
type PartitionMetrics struct {
	// RecordCount is the number of records stored on the partition
	RecordCount int64 `json:"record_count"`

	// StorageUsedBytes is the absolute storage consumption
	StorageUsedBytes int64 `json:"storage_used_bytes"`

	// StorageUsedFraction is the fraction of capacity in use (0–1)
	StorageUsedFraction float64 `json:"storage_used_fraction"`

	// AvgLatency is the rolling average call latency
	AvgLatency time.Duration `json:"avg_latency"`

	// ErrorRate is the rolling fraction of failed calls (0–1)
	ErrorRate float64 `json:"error_rate"`

	// UpdatedAt is when the metrics were last written
	UpdatedAt time.Time `json:"updated_at"`
}

// PartitionSnapshot is a point-in-time view of a partition as held by the
// registry. Snapshots are copies; mutating one has no effect on the registry.
type PartitionSnapshot struct {
	Info    PartitionInfo    `json:"info"`
	Metrics PartitionMetrics `json:"metrics"`

	// Active reports whether the partition serves traffic at all
	Active bool `json:"active"`

	// ReadOnly reports whether the partition accepts new-record assignment.
	// Read-only partitions keep serving reads and updates to existing records.
	ReadOnly bool `json:"read_only"`
}

// Eligible reports whether the partition may receive new-record assignments.
func (s *PartitionSnapshot) Eligible() bool {
	return s.Active && !s.ReadOnly
}
