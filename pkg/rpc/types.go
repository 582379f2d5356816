package rpc

import (
	"encoding/json"

	"github.com/gagliardetto/solana-go"
)

// TransactionInfo is a transaction as the node hands it over after a block is produced.
type TransactionInfo struct {
	Signature solana.Signature `json:"signature"`
	IsVote    bool             `json:"is_vote"`
	// Err is the node's serialized transaction error. Nil means the transaction succeeded.
	Err                json.RawMessage `json:"err,omitempty"`
	CURequested        *uint32         `json:"cu_requested,omitempty"`
	PrioritizationFees *uint64         `json:"prioritization_fees,omitempty"`
	CUConsumed         *uint64         `json:"cu_consumed,omitempty"`
	RecentBlockhash    solana.Hash     `json:"recent_blockhash"`
	Message            solana.Message  `json:"message"`
	// Account lists and lookup tables are derived from the message by the node.
	ReadableAccounts    []solana.PublicKey                 `json:"readable_accounts"`
	WritableAccounts    []solana.PublicKey                 `json:"writable_accounts"`
	AddressLookupTables []solana.MessageAddressTableLookup `json:"address_lookup_tables"`
}

// ProducedBlock is one block with the transactions it included.
type ProducedBlock struct {
	Slot              uint64            `json:"slot"`
	Blockhash         solana.Hash       `json:"blockhash"`
	PreviousBlockhash solana.Hash       `json:"previous_blockhash"`
	ParentSlot        uint64            `json:"parent_slot"`
	BlockTime         int64             `json:"block_time"`
	Leader            *solana.PublicKey `json:"leader,omitempty"`
	Transactions      []TransactionInfo `json:"transactions"`
}

// LeaderData names the validator scheduled to lead one slot.
type LeaderData struct {
	LeaderSlot uint64           `json:"leader_slot"`
	Pubkey     solana.PublicKey `json:"pubkey"`
}
