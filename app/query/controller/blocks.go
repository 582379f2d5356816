package controller

import (
	"net/http"

	"go.uber.org/zap"
)

// HandleSlotBlock returns the stored block header of a slot.
func (c *Controller) HandleSlotBlock(w http.ResponseWriter, r *http.Request) {
	slot, err := parseUintVar(r, "slot", errInvalidSlot)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := c.App.PartitionForSlot(slot).GetBlock(r.Context(), slot)
	if err != nil {
		c.writeStoreError(w, err, zap.Uint64("slot", slot))
		return
	}
	writeJSON(w, http.StatusOK, block)
}
