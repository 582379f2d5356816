package types

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/redis"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// EventSubscriber streams the indexer's notifications. *redis.Client implements it.
type EventSubscriber interface {
	Subscribe(ctx context.Context, pattern string) (<-chan redis.Message, func() error, error)
}

var _ EventSubscriber = (*redis.Client)(nil)

// Pinger is a dependency the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	// Schedule maps slots to the epoch partition that holds them.
	Schedule rpc.EpochSchedule
	// Partitions opens the read side of an epoch partition.
	Partitions func(e rpc.EpochRef) epoch.Reader
	// Catalog lists the epochs that have a partition; nil answers 503 on /epochs.
	Catalog func(ctx context.Context) ([]rpc.EpochRef, error)
	// Leaders answers /leaders; nil disables the route's backend.
	Leaders rpc.LeaderFetcher
	// Checks are pinged by /health, keyed by name.
	Checks map[string]Pinger
	// Gatherer serves /metrics.
	Gatherer prometheus.Gatherer
	// Prefix is the schema prefix whose notifications /ws follows; empty follows every prefix.
	Prefix string
	// Events feeds /ws; nil answers 503.
	Events EventSubscriber
	// JWTSecret verifies HS256 bearer tokens. Auth is off when it and APITokenHash are both empty.
	JWTSecret []byte
	// APITokenHash is the bcrypt hash of a static bearer token.
	APITokenHash []byte
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
	// Closers run on shutdown, in order.
	Closers []func()
}

// PartitionForSlot returns the partition reader holding slot.
func (a *App) PartitionForSlot(slot uint64) epoch.Reader {
	return a.Partitions(a.Schedule.EpochOf(slot))
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = a.Server.Shutdown(shutdownCtx)
	for _, closeFn := range a.Closers {
		closeFn()
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
