package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

type transactionsResponse struct {
	Slot         uint64                    `json:"slot"`
	Epoch        uint64                    `json:"epoch"`
	Partition    string                    `json:"partition"`
	Transactions []*blockstore.Transaction `json:"transactions"`
}

type signatureResponse struct {
	Epoch         uint64 `json:"epoch"`
	Signature     string `json:"signature"`
	TransactionID int64  `json:"transaction_id"`
}

// HandleSlotTransactions returns the transactions of a slot, resolving its epoch from the schedule.
func (c *Controller) HandleSlotTransactions(w http.ResponseWriter, r *http.Request) {
	slot, err := parseUintVar(r, "slot", errInvalidSlot)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.writeTransactions(w, r, c.App.PartitionForSlot(slot), slot)
}

// HandleEpochSlotTransactions returns the transactions of a slot from an explicit epoch partition.
func (c *Controller) HandleEpochSlotTransactions(w http.ResponseWriter, r *http.Request) {
	e, err := parseUintVar(r, "epoch", errInvalidEpoch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot, err := parseUintVar(r, "slot", errInvalidSlot)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.writeTransactions(w, r, c.App.Partitions(rpc.EpochRef(e)), slot)
}

func (c *Controller) writeTransactions(w http.ResponseWriter, r *http.Request, store epoch.Reader, slot uint64) {
	txs, err := store.GetTransactionsForSlot(r.Context(), slot)
	if err != nil {
		c.writeStoreError(w, err, zap.Uint64("slot", slot), zap.String("partition", store.DatabaseName()))
		return
	}

	writeJSON(w, http.StatusOK, transactionsResponse{
		Slot:         slot,
		Epoch:        store.EpochRef().Uint64(),
		Partition:    store.DatabaseName(),
		Transactions: txs,
	})
}

// HandleSignature returns the surrogate key of a signature within an epoch.
func (c *Controller) HandleSignature(w http.ResponseWriter, r *http.Request) {
	e, err := parseUintVar(r, "epoch", errInvalidEpoch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signature := mux.Vars(r)["signature"]

	store := c.App.Partitions(rpc.EpochRef(e))
	id, found, err := store.GetTransactionID(r.Context(), signature)
	if err != nil {
		c.writeStoreError(w, err, zap.Uint64("epoch", e), zap.String("signature", signature))
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "signature not found")
		return
	}

	writeJSON(w, http.StatusOK, signatureResponse{Epoch: e, Signature: signature, TransactionID: id})
}
