package controller

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/rpc"
)

type epochResponse struct {
	Epoch      uint64  `json:"epoch"`
	Partition  string  `json:"partition"`
	FirstSlot  uint64  `json:"first_slot"`
	LastSlot   uint64  `json:"last_slot"`
	Indexed    bool    `json:"indexed"`
	LatestSlot *uint64 `json:"latest_slot,omitempty"`
}

type epochsResponse struct {
	Epochs []epochResponse `json:"epochs"`
}

// HandleEpochs lists the partitioned epochs with their slot bounds.
func (c *Controller) HandleEpochs(w http.ResponseWriter, r *http.Request) {
	if c.App.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "partition catalog not available")
		return
	}

	epochs, err := c.App.Catalog(r.Context())
	if err != nil {
		c.writeStoreError(w, err)
		return
	}

	resp := epochsResponse{Epochs: make([]epochResponse, 0, len(epochs))}
	for _, ref := range epochs {
		resp.Epochs = append(resp.Epochs, epochResponse{
			Epoch:     ref.Uint64(),
			Partition: c.App.Partitions(ref).DatabaseName(),
			FirstSlot: c.App.Schedule.FirstSlot(ref),
			LastSlot:  c.App.Schedule.LastSlot(ref),
			Indexed:   true,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEpoch reports the slot bounds of an epoch and how far its partition has been indexed.
func (c *Controller) HandleEpoch(w http.ResponseWriter, r *http.Request) {
	e, err := parseUintVar(r, "epoch", errInvalidEpoch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := rpc.EpochRef(e)
	store := c.App.Partitions(ref)
	resp := epochResponse{
		Epoch:     e,
		Partition: store.DatabaseName(),
		FirstSlot: c.App.Schedule.FirstSlot(ref),
		LastSlot:  c.App.Schedule.LastSlot(ref),
	}

	exists, err := store.Exists(r.Context())
	if err != nil {
		c.writeStoreError(w, err, zap.Uint64("epoch", e))
		return
	}
	if exists {
		resp.Indexed = true
		latest, found, err := store.LatestSlot(r.Context())
		if err != nil {
			c.writeStoreError(w, err, zap.Uint64("epoch", e))
			return
		}
		if found {
			resp.LatestSlot = &latest
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
