package epoch

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/canopy-network/blockstore/pkg/db/entities"
	"github.com/canopy-network/blockstore/pkg/rpc"
	"github.com/canopy-network/blockstore/pkg/utils"
)

const (
	// DefaultPrefix yields partition schemas such as rpc2a_epoch_592.
	DefaultPrefix = "rpc2a"
	// ForeignKeyName is the optional constraint from transaction_blockdata.slot to blocks.slot.
	ForeignKeyName = "fk_transactions"

	epochInfix = "_epoch_"
	// maxIdentifierLength is PostgreSQL's NAMEDATALEN - 1.
	maxIdentifierLength = 63
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// SchemaConfig selects how partitions are named and whether the slot foreign key is created.
type SchemaConfig struct {
	Prefix string
	// WithForeignKeys adds transaction_blockdata.slot -> blocks.slot. The constraint check slows
	// bulk loads, so it is off unless the operator opts in.
	WithForeignKeys bool
}

// SchemaConfigFromEnv reads BLOCKSTORE_SCHEMA_PREFIX and BLOCKSTORE_FOREIGN_KEYS.
func SchemaConfigFromEnv() SchemaConfig {
	return SchemaConfig{
		Prefix:          utils.Env("BLOCKSTORE_SCHEMA_PREFIX", DefaultPrefix),
		WithForeignKeys: utils.EnvBool("BLOCKSTORE_FOREIGN_KEYS", false),
	}
}

// Schema derives partition names and DDL. It is immutable and safe for concurrent use.
type Schema struct {
	prefix          string
	withForeignKeys bool
}

// NewSchema validates the prefix once, so every partition name it produces is a valid
// unquoted PostgreSQL identifier for any epoch.
func NewSchema(cfg SchemaConfig) (*Schema, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !identifierPattern.MatchString(prefix) {
		return nil, fmt.Errorf("%w: schema prefix %q must match %s", ErrSchema, prefix, identifierPattern)
	}
	longest := len(prefix) + len(epochInfix) + len(strconv.FormatUint(math.MaxUint64, 10))
	if longest > maxIdentifierLength {
		return nil, fmt.Errorf("%w: schema prefix %q too long, partition names would reach %d bytes (max %d)",
			ErrSchema, prefix, longest, maxIdentifierLength)
	}
	return &Schema{prefix: prefix, withForeignKeys: cfg.WithForeignKeys}, nil
}

func (s *Schema) Prefix() string { return s.prefix }

func (s *Schema) ForeignKeysEnabled() bool { return s.withForeignKeys }

// PartitionName returns the schema holding epoch. Distinct epochs never share a name.
func (s *Schema) PartitionName(epoch rpc.EpochRef) string {
	return s.prefix + epochInfix + strconv.FormatUint(uint64(epoch), 10)
}

// ParsePartitionName is the inverse of PartitionName.
func (s *Schema) ParsePartitionName(name string) (rpc.EpochRef, bool) {
	digits, ok := strings.CutPrefix(name, s.prefix+epochInfix)
	if !ok || digits == "" || (len(digits) > 1 && digits[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return rpc.EpochRef(n), true
}

// CreatePartitionStatements returns the idempotent DDL for epoch, in execution order:
// the schema, transaction_ids, transaction_blockdata with its slot index, blocks, then the
// head scan cursor.
func (s *Schema) CreatePartitionStatements(epoch rpc.EpochRef) []string {
	schema := s.PartitionName(epoch)
	ids := entities.TransactionIDs.QualifiedName(schema)
	blockdata := entities.TransactionBlockData.QualifiedName(schema)
	blocks := entities.Blocks.QualifiedName(schema)
	cursor := entities.ScanCursor.QualifiedName(schema)

	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{schema}.Sanitize()),

		// append-only lookup: signature -> surrogate transaction_id, unique within this epoch only
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				transaction_id bigserial PRIMARY KEY WITH (fillfactor=90),
				signature text NOT NULL,
				UNIQUE (signature)
			) WITH (fillfactor=100)`, ids),
		// keep signatures out of TOAST
		fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN signature SET STORAGE PLAIN`, ids),

		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				transaction_id bigint NOT NULL,
				slot bigint NOT NULL,
				cu_requested bigint,
				prioritization_fees bigint,
				cu_consumed bigint,
				recent_blockhash text NOT NULL,
				err text,
				message text NOT NULL,
				PRIMARY KEY (transaction_id, slot) WITH (fillfactor=90)
			) WITH (fillfactor=90, toast_tuple_target=128)`, blockdata),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_slot ON %s USING btree (slot) WITH (fillfactor=90)`, blockdata),

		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				slot bigint PRIMARY KEY,
				blockhash text NOT NULL,
				previous_blockhash text NOT NULL,
				parent_slot bigint NOT NULL,
				block_time timestamptz NOT NULL,
				leader text,
				transaction_count bigint NOT NULL DEFAULT 0
			)`, blocks),

		// at most one row
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id boolean PRIMARY KEY DEFAULT true CHECK (id),
				next_slot bigint NOT NULL,
				updated_at timestamptz NOT NULL DEFAULT now()
			)`, cursor),
	}
}

// ForeignKeyStatement returns the optional slot constraint for epoch. It is not part of
// CreatePartitionStatements; InitializeDB applies it only when foreign keys are enabled.
func (s *Schema) ForeignKeyStatement(epoch rpc.EpochRef) string {
	schema := s.PartitionName(epoch)
	return fmt.Sprintf(`ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (slot) REFERENCES %s (slot)`,
		entities.TransactionBlockData.QualifiedName(schema),
		ForeignKeyName,
		entities.Blocks.QualifiedName(schema),
	)
}
