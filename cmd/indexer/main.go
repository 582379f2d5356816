package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/app/indexer"
	"github.com/canopy-network/blockstore/pkg/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.New("indexer")
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	app, err := indexer.Initialize(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to initialize indexer", zap.Error(err))
	}

	app.SetupServer()
	app.Start(ctx)
}
