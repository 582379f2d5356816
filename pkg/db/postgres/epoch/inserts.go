package epoch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/entities"
	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/metrics"
)

// stagingTable is session-local, so concurrent ingests on different connections never share it.
var stagingTable = pgx.Identifier{"pg_temp", entities.TransactionRawBlockData}

// SaveTransactions writes the transactions of one slot. Every record must carry slot.
//
// The batch runs in a single transaction of three round-trips: binary COPY into the session
// staging table, signature dedup into transaction_ids, then the join into
// transaction_blockdata. Any failure rolls the whole batch back. A (transaction_id, slot)
// pair that already exists fails the batch with a *DuplicateRecordError.
func (db *DB) SaveTransactions(ctx context.Context, slot uint64, records []*blockstore.Transaction) error {
	if err := validateBatch(slot, records); err != nil {
		return err
	}
	if len(records) == 0 {
		db.Logger.Debug("Empty batch, nothing to write", zap.Uint64("slot", slot))
		return nil
	}

	err := db.Client.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return db.ingest(ctx, tx, slot, records)
	})
	if err != nil {
		return fmt.Errorf("save transactions for slot %d: %w", slot, err)
	}
	return nil
}

// SaveBlock writes the block row and its transactions in one transaction. The block row goes
// first so the optional slot foreign key is satisfied when the transactions land.
func (db *DB) SaveBlock(ctx context.Context, block *blockstore.Block, records []*blockstore.Transaction) error {
	if block == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBatch)
	}
	if block.Slot < 0 {
		return fmt.Errorf("%w: negative slot %d", ErrInvalidBatch, block.Slot)
	}
	slot := uint64(block.Slot)
	if err := validateBatch(slot, records); err != nil {
		return err
	}

	blockStart := time.Now()
	err := db.Client.InTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := db.insertBlock(ctx, tx, block); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return db.ingest(ctx, tx, slot, records)
	})
	if err != nil {
		return fmt.Errorf("save block %d: %w", slot, err)
	}

	db.Metrics.IncBlocks()
	db.Logger.Debug("Block saved",
		zap.Uint64("slot", slot),
		zap.Int("transactions", len(records)),
		zap.Duration("duration", time.Since(blockStart)),
	)
	return nil
}

// validateBatch rejects a batch before any round-trip if a record is nil or belongs to another slot.
func validateBatch(slot uint64, records []*blockstore.Transaction) error {
	for i, r := range records {
		if r == nil {
			return fmt.Errorf("%w: record %d is nil", ErrInvalidBatch, i)
		}
		if r.Slot < 0 || uint64(r.Slot) != slot {
			return fmt.Errorf("%w: record %d (%s) has slot %d, batch slot is %d",
				ErrInvalidBatch, i, r.Signature, r.Slot, slot)
		}
	}
	return nil
}

func (db *DB) insertBlock(ctx context.Context, tx pgx.Tx, block *blockstore.Block) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			slot, blockhash, previous_blockhash, parent_slot, block_time, leader, transaction_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entities.Blocks.QualifiedName(db.Name))

	start := time.Now()
	_, err := tx.Exec(ctx, query,
		block.Slot, block.Blockhash, block.PreviousBlockhash, block.ParentSlot,
		block.BlockTime, block.Leader, block.TransactionCount,
	)
	if err != nil {
		return db.stageError(metrics.StageBlock, uint64(block.Slot), err)
	}
	db.observe(metrics.StageBlock, uint64(block.Slot), 1, time.Since(start))
	return nil
}

// ingest runs the stage, dedup and commit round-trips on tx.
func (db *DB) ingest(ctx context.Context, tx pgx.Tx, slot uint64, records []*blockstore.Transaction) error {
	if err := db.stage(ctx, tx, slot, records); err != nil {
		return err
	}
	if err := db.dedup(ctx, tx, slot); err != nil {
		return err
	}
	return db.commit(ctx, tx, slot)
}

// stage (re)creates the session staging table and bulk copies the batch into it.
func (db *DB) stage(ctx context.Context, tx pgx.Tx, slot uint64, records []*blockstore.Transaction) error {
	start := time.Now()

	// no arguments, so pgx sends both statements in one simple-protocol round-trip
	prepare := fmt.Sprintf(`
		CREATE TEMP TABLE IF NOT EXISTS %[1]s (
			signature text NOT NULL,
			slot bigint NOT NULL,
			cu_requested bigint,
			prioritization_fees bigint,
			cu_consumed bigint,
			recent_blockhash text NOT NULL,
			err text,
			message text NOT NULL
		);
		TRUNCATE %[1]s;`, stagingTable.Sanitize())
	if _, err := tx.Exec(ctx, prepare); err != nil {
		return db.stageError(metrics.StageCopy, slot, err)
	}

	copied, err := tx.CopyFrom(ctx, stagingTable, blockstore.TransactionColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return records[i].Values(), nil
		}),
	)
	if err != nil {
		return db.stageError(metrics.StageCopy, slot, err)
	}
	if copied != int64(len(records)) {
		return db.stageError(metrics.StageCopy, slot,
			fmt.Errorf("copied %d rows, batch has %d", copied, len(records)))
	}

	db.observe(metrics.StageCopy, slot, copied, time.Since(start))
	return nil
}

// dedup registers unseen signatures. Signatures are inserted in sorted order so concurrent
// batches with overlapping signatures take their unique-index locks in the same order.
func (db *DB) dedup(ctx context.Context, tx pgx.Tx, slot uint64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (signature)
		SELECT DISTINCT signature FROM %s
		ORDER BY signature
		ON CONFLICT (signature) DO NOTHING`,
		entities.TransactionIDs.QualifiedName(db.Name), stagingTable.Sanitize())

	start := time.Now()
	tag, err := tx.Exec(ctx, query)
	if err != nil {
		return db.stageError(metrics.StageDedup, slot, err)
	}
	db.observe(metrics.StageDedup, slot, tag.RowsAffected(), time.Since(start))
	return nil
}

// commit moves the staged rows into transaction_blockdata under their surrogate keys.
func (db *DB) commit(ctx context.Context, tx pgx.Tx, slot uint64) error {
	columns := []string{
		"cu_requested", "prioritization_fees", "cu_consumed", "recent_blockhash", "err", "message",
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (transaction_id, slot, %s)
		SELECT ids.transaction_id, raw.slot, raw.%s
		FROM %s AS raw
		JOIN %s AS ids USING (signature)`,
		entities.TransactionBlockData.QualifiedName(db.Name),
		strings.Join(columns, ", "),
		strings.Join(columns, ", raw."),
		stagingTable.Sanitize(),
		entities.TransactionIDs.QualifiedName(db.Name),
	)

	start := time.Now()
	tag, err := tx.Exec(ctx, query)
	if err != nil {
		return db.stageError(metrics.StageCommit, slot, err)
	}
	db.observe(metrics.StageCommit, slot, tag.RowsAffected(), time.Since(start))
	return nil
}

func (db *DB) observe(stage string, slot uint64, rows int64, d time.Duration) {
	db.Metrics.ObserveStage(stage, rows, d)
	db.Logger.Debug("Ingest stage complete",
		zap.String("stage", stage),
		zap.Uint64("slot", slot),
		zap.Int64("rows", rows),
		zap.Duration("duration", d),
	)
}

// stageError classifies err, counts it and logs it. Unique violations become *DuplicateRecordError.
func (db *DB) stageError(stage string, slot uint64, err error) error {
	out := asDuplicate(db.Name, slot, err)
	if out == nil {
		out = classify(stage, err)
	}
	kind := ErrorKind(out)
	db.Metrics.IncFailure(stage, kind)
	db.Logger.Warn("Ingest stage failed",
		zap.String("stage", stage),
		zap.Uint64("slot", slot),
		zap.String("kind", kind),
		zap.Error(err),
	)
	return out
}
