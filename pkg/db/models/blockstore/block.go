package blockstore

import "time"

// Block is the persisted header of one produced block.
type Block struct {
	Slot              int64     `db:"slot" json:"slot"`
	Blockhash         string    `db:"blockhash" json:"blockhash"`
	PreviousBlockhash string    `db:"previous_blockhash" json:"previous_blockhash"`
	ParentSlot        int64     `db:"parent_slot" json:"parent_slot"`
	BlockTime         time.Time `db:"block_time" json:"block_time"`
	// Leader is nil when neither the block nor the leader schedule named one.
	Leader           *string `db:"leader" json:"leader,omitempty"`
	TransactionCount int64   `db:"transaction_count" json:"transaction_count"`
}
