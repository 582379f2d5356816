package provisioner

import (
	"context"

	"github.com/canopy-network/blockstore/pkg/rpc"
)

// Provider abstracts where epoch partitions are created.
type Provider interface {
	// EnsurePartition makes sure the partition for epoch exists. It must be idempotent.
	EnsurePartition(ctx context.Context, epoch rpc.EpochRef) (schema string, err error)
	// Close releases any Provider resources.
	Close() error
}

// EpochSource reports where the ledger currently is.
type EpochSource interface {
	EpochInfo(ctx context.Context) (rpc.EpochInfo, error)
}
