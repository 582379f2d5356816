package provisioner

import (
	"time"

	"github.com/canopy-network/blockstore/pkg/rpc"
)

// Partition describes a partition the provisioner has ensured.
type Partition struct {
	Epoch     rpc.EpochRef `json:"epoch"`
	Schema    string       `json:"schema"`
	EnsuredAt time.Time    `json:"ensured_at"`
}
