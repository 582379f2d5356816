package blockstore

// TransactionColumns lists the staged columns in copy order. Values returns fields in the same order.
var TransactionColumns = []string{
	"signature",
	"slot",
	"cu_requested",
	"prioritization_fees",
	"cu_consumed",
	"recent_blockhash",
	"err",
	"message",
}

// Transaction is the persisted form of one transaction in one slot.
// Written once at ingest and never mutated. The surrogate transaction_id is assigned by the
// store and is not part of the record.
type Transaction struct {
	Signature string `db:"signature" json:"signature"`
	Slot      int64  `db:"slot" json:"slot"`
	// Err is the base64 of the node's serialized error. Nil when the transaction succeeded.
	Err *string `db:"err" json:"err,omitempty"`
	// Nil when the block did not report the value.
	CURequested        *int64 `db:"cu_requested" json:"cu_requested,omitempty"`
	PrioritizationFees *int64 `db:"prioritization_fees" json:"prioritization_fees,omitempty"`
	CUConsumed         *int64 `db:"cu_consumed" json:"cu_consumed,omitempty"`
	RecentBlockhash    string `db:"recent_blockhash" json:"recent_blockhash"`
	// Message is the base64 of the serialized transaction message.
	Message string `db:"message" json:"message"`
}

// Values returns the row for the copy stage, ordered as TransactionColumns.
func (t *Transaction) Values() []any {
	return []any{
		t.Signature,
		t.Slot,
		t.CURequested,
		t.PrioritizationFees,
		t.CUConsumed,
		t.RecentBlockhash,
		t.Err,
		t.Message,
	}
}
