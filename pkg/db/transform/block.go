package transform

import (
	"time"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// Block maps a produced block header into its persisted row.
func Block(b *rpc.ProducedBlock) *blockstore.Block {
	out := &blockstore.Block{
		Slot:              int64(b.Slot),
		Blockhash:         b.Blockhash.String(),
		PreviousBlockhash: b.PreviousBlockhash.String(),
		ParentSlot:        int64(b.ParentSlot),
		BlockTime:         time.Unix(b.BlockTime, 0).UTC(),
		TransactionCount:  int64(len(b.Transactions)),
	}
	if b.Leader != nil {
		leader := b.Leader.String()
		out.Leader = &leader
	}
	return out
}
