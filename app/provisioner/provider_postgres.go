package provisioner

import (
	"context"

	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// PostgresProvider creates partitions in PostgreSQL. It owns the client and closes it.
type PostgresProvider struct {
	Client  *postgres.Client
	Schema  *epoch.Schema
	Metrics *metrics.Ingest
}

// NewPostgresProvider returns a provider over client.
func NewPostgresProvider(client *postgres.Client, schema *epoch.Schema, m *metrics.Ingest) *PostgresProvider {
	return &PostgresProvider{Client: client, Schema: schema, Metrics: m}
}

// EnsurePartition runs the idempotent partition DDL for e.
func (p *PostgresProvider) EnsurePartition(ctx context.Context, e rpc.EpochRef) (string, error) {
	db := epoch.New(p.Client, p.Schema, e, epoch.WithMetrics(p.Metrics))
	if err := db.InitializeDB(ctx); err != nil {
		return "", err
	}
	return db.DatabaseName(), nil
}

// Close closes the PostgreSQL pool.
func (p *PostgresProvider) Close() error {
	p.Client.Close()
	return nil
}
