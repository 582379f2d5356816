package epoch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// DB is one epoch partition. It borrows the shared client and never closes it, so any number
// of partitions can be open over one pool.
type DB struct {
	Client  *postgres.Client
	Logger  *zap.Logger
	Schema  *Schema
	Epoch   rpc.EpochRef
	Name    string // schema name, e.g. "rpc2a_epoch_592"
	Metrics *metrics.Ingest
}

// Option configures a DB.
type Option func(*DB)

// WithMetrics records stage durations and failures on m.
func WithMetrics(m *metrics.Ingest) Option {
	return func(db *DB) { db.Metrics = m }
}

// WithLogger replaces the client's logger as the parent of the partition logger.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) { db.Logger = logger }
}

// New returns the partition for epoch. It does not touch the database; call InitializeDB
// before the first write.
func New(client *postgres.Client, schema *Schema, epoch rpc.EpochRef, opts ...Option) *DB {
	db := &DB{
		Client: client,
		Logger: client.Logger,
		Schema: schema,
		Epoch:  epoch,
		Name:   schema.PartitionName(epoch),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.Logger == nil {
		db.Logger = zap.NewNop()
	}
	db.Logger = db.Logger.With(zap.String("schema", db.Name), zap.Uint64("epoch", epoch.Uint64()))
	return db
}

// DatabaseName returns the partition's schema name.
func (db *DB) DatabaseName() string {
	return db.Name
}

// EpochRef returns the epoch this partition holds.
func (db *DB) EpochRef() rpc.EpochRef {
	return db.Epoch
}

// InitializeDB creates the partition if it does not exist. It is idempotent and safe to run
// from several processes at once: all DDL runs in one transaction holding an advisory lock
// keyed on the schema name, so a partition is either fully created or not at all.
func (db *DB) InitializeDB(ctx context.Context) error {
	initStart := time.Now()
	db.Logger.Debug("Initializing epoch partition")

	err := db.Client.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, db.Name); err != nil {
			return classify("lock partition", err)
		}

		for i, stmt := range db.Schema.CreatePartitionStatements(db.Epoch) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return classifyDDL(fmt.Sprintf("partition statement %d", i), err)
			}
		}

		if !db.Schema.ForeignKeysEnabled() {
			return nil
		}
		exists, err := db.Client.ConstraintExists(ctx, db.Name, ForeignKeyName)
		if err != nil {
			return classify("check foreign key", err)
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(ctx, db.Schema.ForeignKeyStatement(db.Epoch)); err != nil {
			return classifyDDL("add foreign key", err)
		}
		db.Logger.Info("Added slot foreign key", zap.String("constraint", ForeignKeyName))
		return nil
	})
	if err != nil {
		db.Logger.Error("Failed to initialize epoch partition", zap.Error(err))
		return fmt.Errorf("initialize %s: %w", db.Name, err)
	}

	db.Metrics.IncPartitions()
	db.Logger.Info("Epoch partition ready", zap.Duration("duration", time.Since(initStart)))
	return nil
}

// Exists reports whether the partition schema has been created.
func (db *DB) Exists(ctx context.Context) (bool, error) {
	exists, err := db.Client.SchemaExists(ctx, db.Name)
	if err != nil {
		return false, classify("partition exists", err)
	}
	return exists, nil
}
