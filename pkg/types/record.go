package types

import "time"

// Record is an opaque stored record as returned by a partition's record
// service. The routing layer never interprets Payload; it only needs the
// identity for deduplication and the owner key for index maintenance.
type Record struct {
	// ID uniquely identifies the record across all partitions
	ID string `json:"id"`

	// OwnerKey is the logical owner the record belongs to
	OwnerKey string `json:"owner_key"`

	// Payload is the opaque record body
	Payload []byte `json:"payload,omitempty"`

	// CreatedAt is when the record was created on its owning partition
	CreatedAt time.Time `json:"created_at"`
}
