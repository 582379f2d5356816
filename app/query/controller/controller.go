package controller

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopy-network/blockstore/app/query/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)
	if c.App.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.App.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	api.Use(c.RequireAuth)

	api.HandleFunc("/slots/{slot}/transactions", c.HandleSlotTransactions).Methods(http.MethodGet)
	api.HandleFunc("/slots/{slot}/block", c.HandleSlotBlock).Methods(http.MethodGet)
	api.HandleFunc("/epochs", c.HandleEpochs).Methods(http.MethodGet)
	api.HandleFunc("/epochs/{epoch}", c.HandleEpoch).Methods(http.MethodGet)
	api.HandleFunc("/epochs/{epoch}/slots/{slot}/transactions", c.HandleEpochSlotTransactions).Methods(http.MethodGet)
	api.HandleFunc("/epochs/{epoch}/signatures/{signature}", c.HandleSignature).Methods(http.MethodGet)
	api.HandleFunc("/leaders", c.HandleLeaders).Methods(http.MethodGet)
	api.HandleFunc("/ws", c.HandleSlotFeed).Methods(http.MethodGet)

	return r, nil
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
