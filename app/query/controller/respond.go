package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

var (
	errInvalidSlot  = errors.New("invalid slot")
	errInvalidEpoch = errors.New("invalid epoch")
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps the store's error taxonomy onto HTTP statuses.
func (c *Controller) writeStoreError(w http.ResponseWriter, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, epoch.ErrSchema):
		writeError(w, http.StatusNotFound, "epoch not indexed")
	case errors.Is(err, epoch.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "block not found")
	case errors.Is(err, rpc.ErrLeadersUnavailable):
		writeError(w, http.StatusNotFound, "leader schedule unavailable")
	case errors.Is(err, epoch.ErrConnection):
		c.App.Logger.Warn("Store unavailable", append(fields, zap.Error(err))...)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		c.App.Logger.Error("Query failed", append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, "query failed")
	}
}

func parseUintVar(r *http.Request, name string, invalid error) (uint64, error) {
	n, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, invalid
	}
	return n, nil
}
