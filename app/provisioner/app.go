package provisioner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/rpc"
	"github.com/canopy-network/blockstore/pkg/utils"
)

// App keeps the partitions for the current epoch and the next Lookahead epochs in place,
// every Cron tick, so a partition exists before the first block of its epoch arrives.
type App struct {
	// Cron is the scheduler that triggers reconciliation tasks at specified intervals, according to CronSpec.
	Cron     *cron.Cron
	CronSpec string

	// Provider creates partitions (postgres or fake).
	Provider Provider
	// Source reports the ledger's current epoch.
	Source EpochSource
	// Lookahead is how many epochs past the current one are provisioned.
	Lookahead uint64

	// Ensured tracks partitions this process has already ensured.
	Ensured *xsync.Map[rpc.EpochRef, Partition]

	// Logger is used to log messages, errors, and events during the application's lifecycle and operations.
	Logger *zap.Logger

	// Server is the HTTP server that serves the probes.
	Server *http.Server

	ready atomic.Bool
}

// Initialize builds the App and its scheduler. PROVISIONER_CRON and PROVISIONER_LOOKAHEAD
// override the schedule and the number of future epochs.
func Initialize(ctx context.Context, logger *zap.Logger, provider Provider, source EpochSource) (*App, error) {
	app := &App{
		CronSpec:  utils.Env("PROVISIONER_CRON", "*/30 * * * * *"),
		Provider:  provider,
		Source:    source,
		Lookahead: uint64(utils.EnvInt64("PROVISIONER_LOOKAHEAD", 1)),
		Ensured:   xsync.NewMap[rpc.EpochRef, Partition](),
		Logger:    logger,
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger, app.CronSpec); err != nil {
		return nil, err
	}
	return app, nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")
	a.Server = &http.Server{Addr: addr, Handler: a.Router()}
}

// Router serves the liveness and readiness probes and the ensured partition list.
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/partitions", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Partitions())
	})).Methods("GET")

	return r
}

// SetupScheduler sets up the cron scheduler.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 25*time.Second)
		defer cancel()
		if err := a.Reconcile(rctx); err != nil {
			logger.Info("[provisioner] reconcile error", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cronSpec, err)
	}

	return nil
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[provisioner] Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler and closes the provider.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
	_ = a.Provider.Close()
}

// Desired returns the epochs that must exist given the ledger position.
func (a *App) Desired(info rpc.EpochInfo) []rpc.EpochRef {
	out := make([]rpc.EpochRef, 0, a.Lookahead+1)
	for i := uint64(0); i <= a.Lookahead; i++ {
		out = append(out, info.Epoch+rpc.EpochRef(i))
	}
	return out
}

// Reconcile ensures every desired partition not yet ensured by this process. Epochs are
// attempted independently; the App becomes ready once a pass ends with none missing.
func (a *App) Reconcile(ctx context.Context) error {
	info, err := a.Source.EpochInfo(ctx)
	if err != nil {
		return fmt.Errorf("load epoch info: %w", err)
	}

	var errs []error
	for _, e := range a.Desired(info) {
		if _, ok := a.Ensured.Load(e); ok {
			continue
		}
		schema, err := a.Provider.EnsurePartition(ctx, e)
		if err != nil {
			errs = append(errs, fmt.Errorf("ensure epoch %d: %w", e, err))
			continue
		}
		a.Ensured.Store(e, Partition{Epoch: e, Schema: schema, EnsuredAt: time.Now().UTC()})
		a.Logger.Info("[provisioner] partition ensured",
			zap.Uint64("epoch", e.Uint64()),
			zap.String("schema", schema),
			zap.Uint64("current_epoch", info.Epoch.Uint64()))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.ready.Store(true)
	return nil
}

// ReconcileOnce is a convenience wrapper for Reconcile.
func (a *App) ReconcileOnce(ctx context.Context) {
	if err := a.Reconcile(ctx); err != nil {
		a.Logger.Warn("[provisioner] initial reconcile failed", zap.Error(err))
	}
}

// Partitions lists ensured partitions by epoch.
func (a *App) Partitions() []Partition {
	out := make([]Partition, 0, a.Ensured.Size())
	a.Ensured.Range(func(_ rpc.EpochRef, p Partition) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out
}

// Ready reports whether the current and lookahead partitions have been ensured at least once.
func (a *App) Ready() bool { return a.ready.Load() }

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Logger.Info("[provisioner] shutting down…")
	a.StopCron()
	a.Logger.Info("さようなら!")
}
