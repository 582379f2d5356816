package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/canopy-network/blockstore/pkg/retry"
	"github.com/canopy-network/blockstore/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// This allows methods to work with either a connection pool or a transaction.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Client wraps a PostgreSQL connection pool and provides helper methods.
// A Client is shared by every epoch partition; partitions borrow it and never close it.
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// PoolConfig defines connection pool settings for a specific component
type PoolConfig struct {
	MinConns        int32
	MaxConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	Component       string // For logging/debugging
}

// New connects to POSTGRES_URL with retry/backoff and returns a ready client.
// Accepts optional poolConfig parameter for component-specific pool sizing.
func New(ctx context.Context, logger *zap.Logger, poolConfig ...*PoolConfig) (*Client, error) {
	return NewFromURL(ctx, logger, utils.Env("POSTGRES_URL", "postgres://localhost:5432/postgres"), poolConfig...)
}

// NewFromURL is New with an explicit connection string.
func NewFromURL(ctx context.Context, logger *zap.Logger, dbURL string, poolConfig ...*PoolConfig) (*Client, error) {
	// Add timeout to context for initial connection
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse POSTGRES_URL: %w", err)
	}

	poolConf := PoolConfigFromEnv("unknown")
	if len(poolConfig) > 0 && poolConfig[0] != nil {
		poolConf = *poolConfig[0]
	}

	config.MinConns = poolConf.MinConns
	config.MaxConns = poolConf.MaxConns
	config.MaxConnLifetime = poolConf.ConnMaxLifetime
	config.MaxConnIdleTime = poolConf.ConnMaxIdleTime

	client := &Client{Logger: logger}
	retryErr := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}

		logger.Debug("Pinging PostgreSQL connection",
			zap.String("database", config.ConnConfig.Database),
			zap.String("component", poolConf.Component),
		)

		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}

		client.Pool = pool

		logger.Info("PostgreSQL connection pool configured",
			zap.String("database", config.ConnConfig.Database),
			zap.String("component", poolConf.Component),
			zap.Int32("min_conns", poolConf.MinConns),
			zap.Int32("max_conns", poolConf.MaxConns),
			zap.Duration("conn_max_lifetime", poolConf.ConnMaxLifetime),
			zap.Duration("conn_max_idle_time", poolConf.ConnMaxIdleTime),
		)

		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return client, nil
}

// Exec executes a query without returning any rows
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.GetExecutor(ctx).Exec(ctx, query, args...)
	return err
}

// Query executes a query that returns rows
// IMPORTANT: Caller MUST call rows.Close() when done to release the connection
func (c *Client) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return c.GetExecutor(ctx).Query(ctx, query, args...)
}

// QueryRow executes a query that is expected to return at most one row
func (c *Client) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return c.GetExecutor(ctx).QueryRow(ctx, query, args...)
}

// Ping verifies the pool can reach the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// InTx runs fn inside the transaction carried by ctx, or inside a new one committed when fn
// returns nil. Either way fn gets a ctx carrying the transaction, so nested helpers that use
// GetExecutor join it and every statement runs on the same connection.
func (c *Client) InTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return fn(ctx, tx)
	}
	return pgx.BeginFunc(ctx, c.Pool, func(tx pgx.Tx) error {
		return fn(c.WithTx(ctx, tx), tx)
	})
}

// Close closes the connection pool. Only the owner of the client calls it.
func (c *Client) Close() {
	c.Pool.Close()
}

// ctxKey is the type used for context keys to avoid collisions
type ctxKey string

// txKey is the context key for storing the transaction
const txKey ctxKey = "pgx_tx"

// WithTx returns a new context with the transaction embedded
// This allows methods to automatically use the transaction when present
func (c *Client) WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// GetExecutor returns an Executor from the context
// If a transaction is present in the context, it returns the transaction
// Otherwise, it returns the connection pool for non-transactional operations
func (c *Client) GetExecutor(ctx context.Context) Executor {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx
	}
	return c.Pool
}

// SchemaExists checks if a schema exists in the current database
func (c *Client) SchemaExists(ctx context.Context, schema string) (bool, error) {
	var exists bool
	err := c.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, schema).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check if schema exists %s: %w", schema, err)
	}
	return exists, nil
}

// ListSchemas returns the schemas whose names start with prefix, sorted by name.
func (c *Client) ListSchemas(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.Query(ctx, `SELECT nspname FROM pg_namespace WHERE starts_with(nspname, $1) ORDER BY nspname`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list schemas %s*: %w", prefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list schemas %s*: %w", prefix, err)
	}
	return names, nil
}

// ConstraintExists checks if a named constraint exists in schema
func (c *Client) ConstraintExists(ctx context.Context, schema, constraint string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pg_constraint con
			JOIN pg_namespace ns ON ns.oid = con.connamespace
			WHERE ns.nspname = $1
			AND con.conname = $2
		)
	`

	var exists bool
	err := c.QueryRow(ctx, query, schema, constraint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check if constraint exists %s.%s: %w", schema, constraint, err)
	}
	return exists, nil
}

// IsNoRows checks if the error is a "no rows" error
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// GetPoolConfigForComponent returns deterministic pool settings for each component
func GetPoolConfigForComponent(component string) *PoolConfig {
	var minConns, maxConns int32
	connMaxLifetime := 30 * time.Minute
	connMaxIdleTime := 5 * time.Minute

	switch component {
	case "indexer":
		// one connection per concurrent block ingest plus headroom for partition DDL
		minConns = 4
		maxConns = 40
	case "query":
		minConns = 2
		maxConns = 20
	case "provisioner":
		minConns = 1
		maxConns = 4
	default:
		minConns = 2
		maxConns = 20
	}

	return &PoolConfig{
		MinConns:        minConns,
		MaxConns:        maxConns,
		ConnMaxLifetime: connMaxLifetime,
		ConnMaxIdleTime: connMaxIdleTime,
		Component:       component,
	}
}

// PoolConfigFromEnv starts from the component defaults and applies POSTGRES_MIN_CONNS,
// POSTGRES_MAX_CONNS, POSTGRES_CONN_MAX_LIFETIME and POSTGRES_CONN_MAX_IDLE_TIME overrides.
func PoolConfigFromEnv(component string) PoolConfig {
	conf := *GetPoolConfigForComponent(component)
	conf.MinConns = int32(utils.EnvInt("POSTGRES_MIN_CONNS", int(conf.MinConns)))
	conf.MaxConns = int32(utils.EnvInt("POSTGRES_MAX_CONNS", int(conf.MaxConns)))
	if conf.MinConns > conf.MaxConns {
		conf.MinConns = conf.MaxConns
	}
	conf.ConnMaxLifetime = utils.EnvDuration("POSTGRES_CONN_MAX_LIFETIME", conf.ConnMaxLifetime)
	conf.ConnMaxIdleTime = utils.EnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", conf.ConnMaxIdleTime)
	return conf
}
