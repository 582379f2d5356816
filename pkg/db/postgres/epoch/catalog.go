package epoch

import (
	"context"
	"slices"

	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// ListPartitions returns the epochs that have a partition under schema's prefix, ascending.
func ListPartitions(ctx context.Context, client *postgres.Client, schema *Schema) ([]rpc.EpochRef, error) {
	names, err := client.ListSchemas(ctx, schema.Prefix()+epochInfix)
	if err != nil {
		return nil, classify("list partitions", err)
	}

	out := make([]rpc.EpochRef, 0, len(names))
	for _, name := range names {
		if e, ok := schema.ParsePartitionName(name); ok {
			out = append(out, e)
		}
	}
	// names sort lexically, so 10 lands before 9
	slices.Sort(out)
	return out, nil
}
