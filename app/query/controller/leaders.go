package controller

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/rpc"
)

// maxLeaderSpan caps one /leaders request.
const maxLeaderSpan = 4 * rpc.MaxSlotLeadersPerRequest

var errInvalidRange = errors.New("from and to must be slots with from <= to")

type leadersResponse struct {
	From    uint64           `json:"from"`
	To      uint64           `json:"to"`
	Leaders []rpc.LeaderData `json:"leaders"`
}

// HandleLeaders returns the scheduled leader of every slot in [from, to].
func (c *Controller) HandleLeaders(w http.ResponseWriter, r *http.Request) {
	if c.App.Leaders == nil {
		writeError(w, http.StatusServiceUnavailable, "leader schedule not configured")
		return
	}

	qs := r.URL.Query()
	from, errFrom := strconv.ParseUint(qs.Get("from"), 10, 64)
	to, errTo := strconv.ParseUint(qs.Get("to"), 10, 64)
	if errFrom != nil || errTo != nil || to < from {
		writeError(w, http.StatusBadRequest, errInvalidRange.Error())
		return
	}
	if to-from >= maxLeaderSpan {
		writeError(w, http.StatusBadRequest, "range too large")
		return
	}

	leaders, err := c.App.Leaders.GetSlotLeaders(r.Context(), from, to)
	if err != nil {
		c.writeStoreError(w, err, zap.Uint64("from", from), zap.Uint64("to", to))
		return
	}
	writeJSON(w, http.StatusOK, leadersResponse{From: from, To: to, Leaders: leaders})
}
