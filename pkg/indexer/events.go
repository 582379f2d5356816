package indexer

import (
	"time"
)

// EventSlotIndexed is published after a block's transaction commits.
const EventSlotIndexed = "slot.indexed"

// SlotIndexedEvent announces that a slot is queryable. It is published to Redis Pub/Sub after
// the ingest transaction commits, so a subscriber can read the slot as soon as it sees the event.
type SlotIndexedEvent struct {
	Event        string    `json:"event"` // Always "slot.indexed"
	Slot         uint64    `json:"slot"`
	Epoch        uint64    `json:"epoch"`
	Partition    string    `json:"partition"`
	Blockhash    string    `json:"blockhash"`
	Leader       string    `json:"leader,omitempty"`
	Transactions int       `json:"transactions"`
	Timestamp    time.Time `json:"timestamp"` // Event publication time (UTC)
}

// streamValues flattens the event for XADD.
func (e *SlotIndexedEvent) streamValues() map[string]interface{} {
	return map[string]interface{}{
		"slot":         e.Slot,
		"epoch":        e.Epoch,
		"partition":    e.Partition,
		"blockhash":    e.Blockhash,
		"transactions": e.Transactions,
	}
}
