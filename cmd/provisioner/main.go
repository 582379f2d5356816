package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/app/provisioner"
	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/logging"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/rpc"
	"github.com/canopy-network/blockstore/pkg/utils"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New("provisioner")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	// PROVISIONER_PROVIDER=fake runs the scheduler without a database.
	var provider provisioner.Provider
	switch kind := utils.Env("PROVISIONER_PROVIDER", "postgres"); kind {
	case "fake":
		provider = provisioner.NewFakeProvider(logger)
	case "postgres":
		schema, err := epoch.NewSchema(epoch.SchemaConfigFromEnv())
		if err != nil {
			logger.Fatal("Invalid schema configuration", zap.Error(err))
		}
		poolConfig := postgres.PoolConfigFromEnv("provisioner")
		pg, err := postgres.New(ctx, logger, &poolConfig)
		if err != nil {
			logger.Fatal("Unable to connect to postgres", zap.Error(err))
		}
		provider = provisioner.NewPostgresProvider(pg, schema, metrics.NewIngest(nil))
	default:
		logger.Fatal("Unknown provisioner provider", zap.String("provider", kind))
	}

	source := rpc.NewSolanaClient(rpc.Opts{
		Endpoint: utils.Env("SOLANA_RPC_URL", "http://localhost:8899"),
		Timeout:  utils.EnvDuration("SOLANA_RPC_TIMEOUT", 0),
		Logger:   logger,
	})

	app, err := provisioner.Initialize(ctx, logger, provider, source)
	if err != nil {
		logger.Fatal("Unable to initialize provisioner", zap.Error(err))
	}

	// Immediate pass before cron
	app.ReconcileOnce(ctx)

	app.StartCron()
	app.SetupServer()
	app.Start(ctx)
}
