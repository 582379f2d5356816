package query

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/app/query/types"
	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/redis"
	"github.com/canopy-network/blockstore/pkg/rpc"
	"github.com/canopy-network/blockstore/pkg/utils"
)

// Initialize wires the read API: the PostgreSQL pool, the epoch schedule and leader lookups
// from the node, and optionally Redis for the health check and slot feed.
func Initialize(ctx context.Context, logger *zap.Logger) (*types.App, error) {
	poolConfig := postgres.PoolConfigFromEnv("query")
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

	app := &types.App{
		Schedule: schedule,
		Partitions: func(e rpc.EpochRef) epoch.Reader {
			return epoch.New(pg, schema, e, epoch.WithMetrics(ingestMetrics))
		},
		Catalog: func(ctx context.Context) ([]rpc.EpochRef, error) {
			return epoch.ListPartitions(ctx, pg, schema)
		},
		Leaders:  client,
		Prefix:   schema.Prefix(),
		Checks:   map[string]types.Pinger{"postgres": pg},
		Gatherer: registry,
		Logger:   logger,
		Closers:  []func(){pg.Close},
	}

	if secret := utils.Env("QUERY_JWT_SECRET", ""); secret != "" {
		app.JWTSecret = []byte(secret)
	}
	if token := utils.Env("QUERY_API_TOKEN", ""); token != "" {
		hash, err := utils.HashOrRead(token)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("hash api token: %w", err)
		}
		app.APITokenHash = hash
	}

	// Redis backs the health check and the slot feed (optional)
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err := redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - health will not include it", zap.Error(err))
		} else {
			app.Checks["redis"] = redisPinger{redisClient}
			app.Events = redisClient
			app.Closers = append(app.Closers, func() { _ = redisClient.Close() })
		}
	}

	logger.Info("Query app initialized",
		zap.String("schema_prefix", schema.Prefix()),
		zap.Bool("auth", len(app.JWTSecret) > 0 || len(app.APITokenHash) > 0),
		zap.Bool("slot_feed", app.Events != nil),
		zap.Uint64("slots_per_epoch", schedule.SlotsPerEpoch))
	return app, nil
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }
