package indexer

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	blockindexer "github.com/canopy-network/blockstore/pkg/indexer"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/redis"
	"github.com/canopy-network/blockstore/pkg/rpc"
	"github.com/canopy-network/blockstore/pkg/utils"
)

// App follows the node's finalized slot and writes every produced block to its epoch partition.
type App struct {
	Indexer *blockindexer.Indexer
	Source  rpc.BlockSource
	// Leaders resolves block leaders per scanned range; nil leaves it to the Indexer.
	Leaders rpc.LeaderFetcher
	Config  ScanConfig

	Logger   *zap.Logger
	Server   *http.Server
	Gatherer prometheus.Gatherer
	// Closers run on shutdown, in order.
	Closers []func()

	fetchPool pond.Pool
	next      atomic.Uint64
	latest    atomic.Uint64
	resumed   atomic.Bool
	ready     atomic.Bool
}

// Status is what /status reports.
type Status struct {
	NextSlot      uint64 `json:"next_slot"`
	FinalizedSlot uint64 `json:"finalized_slot"`
	Lag           uint64 `json:"lag"`
	Ready         bool   `json:"ready"`
}

// NewApp assembles an App around an existing Indexer.
func NewApp(logger *zap.Logger, ix *blockindexer.Indexer, source rpc.BlockSource, leaders rpc.LeaderFetcher, cfg ScanConfig) *App {
	cfg = cfg.withDefaults()
	return &App{
		Indexer:   ix,
		Source:    source,
		Leaders:   leaders,
		Config:    cfg,
		Logger:    logger,
		fetchPool: pond.NewPool(cfg.FetchParallelism),
		Closers:   []func(){ix.Close},
	}
}

// Initialize wires the PostgreSQL pool, the node client, metrics and optional Redis
// notifications into a ready-to-start App.
func Initialize(ctx context.Context, logger *zap.Logger) (*App, error) {
	poolConfig := postgres.PoolConfigFromEnv("indexer")
	pg, err := postgres.New(ctx, logger, &poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	schema, err := epoch.NewSchema(epoch.SchemaConfigFromEnv())
	if err != nil {
		pg.Close()
		return nil, err
	}

	client := rpc.NewSolanaClient(rpc.Opts{
		Endpoint: utils.Env("SOLANA_RPC_URL", "http://localhost:8899"),
		Timeout:  utils.EnvDuration("SOLANA_RPC_TIMEOUT", 0),
		Logger:   logger,
	})
	schedule, err := client.EpochSchedule(ctx)
	if err != nil {
		pg.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ingestMetrics := metrics.NewIngest(registry)

	cfg := blockindexer.ConfigFromEnv(schema.Prefix())
	if cfg.MaxParallelism > int(poolConfig.MaxConns) {
		cfg.MaxParallelism = int(poolConfig.MaxConns)
	}
	ix := blockindexer.New(logger, schedule, func(e rpc.EpochRef) epoch.Store {
		return epoch.New(pg, schema, e, epoch.WithMetrics(ingestMetrics), epoch.WithLogger(logger))
	}, cfg)
	ix.Metrics = ingestMetrics
	ix.Leaders = client

	app := NewApp(logger, ix, client, client, ScanConfigFromEnv())
	app.Gatherer = registry

	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - slot notifications disabled", zap.Error(err))
		} else {
			ix.Publisher = redisClient
			app.Closers = append(app.Closers, func() { _ = redisClient.Close() })
		}
	}
	app.Closers = append(app.Closers, pg.Close)

	logger.Info("Indexer app initialized",
		zap.String("schema_prefix", schema.Prefix()),
		zap.Uint64("slots_per_epoch", schedule.SlotsPerEpoch),
		zap.Int("parallelism", cfg.MaxParallelism),
		zap.Uint64("batch_slots", app.Config.BatchSlots))
	return app, nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3003")
	a.Server = &http.Server{Addr: addr, Handler: a.Router()}
}

// Router serves the probes, scan status and metrics.
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
	r.Handle("/status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Status())
	})).Methods("GET")
	if a.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

// Ready reports whether a head scan has completed since start.
func (a *App) Ready() bool { return a.ready.Load() }

// Status reports the scan cursor against the node's finalized slot.
func (a *App) Status() Status {
	s := Status{NextSlot: a.next.Load(), FinalizedSlot: a.latest.Load(), Ready: a.Ready()}
	if s.FinalizedSlot >= s.NextSlot {
		s.Lag = s.FinalizedSlot - s.NextSlot + 1
	}
	return s
}

// Run scans until ctx is done. A scan that leaves a backlog is followed immediately by the
// next one; otherwise the loop waits PollInterval.
func (a *App) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := a.Config.PollInterval
		res, err := a.HeadScan(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			a.Logger.Warn("Head scan failed", zap.Uint64("range_start", res.Start), zap.Uint64("range_end", res.End), zap.Error(err))
		case !res.CaughtUp():
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Start serves the probes and runs the scan loop until ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.Server == nil {
		a.SetupServer()
	}
	go func() { _ = a.Server.ListenAndServe() }()

	a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)

	a.Stop()
}

// Stop releases the fetch pool and runs the closers.
func (a *App) Stop() {
	a.fetchPool.StopAndWait()
	for _, closeFn := range a.Closers {
		closeFn()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
