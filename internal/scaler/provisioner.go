package scaler

import (
	"context"

	"github.com/google/uuid"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Provisioner brings up a new partition and returns its identity and
// endpoint. Implementations talk to whatever actually creates capacity
// (an orchestrator, a fleet API, a static pool).
type Provisioner interface {
	Provision(ctx context.Context, id types.PartitionID) (types.PartitionInfo, error)
}

// ProvisionFunc adapts a function to the Provisioner interface.
type ProvisionFunc func(ctx context.Context, id types.PartitionID) (types.PartitionInfo, error)

func (f ProvisionFunc) Provision(ctx context.Context, id types.PartitionID) (types.PartitionInfo, error) {
	return f(ctx, id)
}

// NewPartitionID mints a unique partition identity.
func NewPartitionID() types.PartitionID {
	return types.PartitionID("p-" + uuid.NewString())
}
