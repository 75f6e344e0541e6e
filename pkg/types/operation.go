package types

// Operation describes what the caller intends to do with the selected
// partition. The routing layer never inspects record contents; the operation
// kind only influences candidate selection.
type Operation string

const (
	// OperationCreate places a new record; only writable partitions qualify
	OperationCreate Operation = "create"

	// OperationRead reads or updates an existing record
	OperationRead Operation = "read"

	// OperationList enumerates an owner's records across partitions
	OperationList Operation = "list"
)
