package epoch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/canopy-network/blockstore/pkg/db/entities"
	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/db/postgres"
	"github.com/canopy-network/blockstore/pkg/metrics"
)

// GetTransactionsForSlot returns every transaction recorded for slot, ordered by surrogate key.
// A slot with no transactions yields an empty slice and a nil error.
func (db *DB) GetTransactionsForSlot(ctx context.Context, slot uint64) ([]*blockstore.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT ids.signature, bd.slot, bd.cu_requested, bd.prioritization_fees, bd.cu_consumed,
		       bd.recent_blockhash, bd.err, bd.message
		FROM %s AS bd
		JOIN %s AS ids ON ids.transaction_id = bd.transaction_id
		WHERE bd.slot = $1
		ORDER BY bd.transaction_id`,
		entities.TransactionBlockData.QualifiedName(db.Name),
		entities.TransactionIDs.QualifiedName(db.Name),
	)

	start := time.Now()
	rows, err := db.Client.Query(ctx, query, int64(slot))
	if err != nil {
		err = classify(fmt.Sprintf("get transactions for slot %d", slot), err)
		db.Metrics.IncFailure(metrics.StageQuery, ErrorKind(err))
		return nil, err
	}
	txs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[blockstore.Transaction])
	if err != nil {
		return nil, classify(fmt.Sprintf("scan transactions for slot %d", slot), err)
	}
	if txs == nil {
		txs = []*blockstore.Transaction{}
	}
	db.Metrics.ObserveStage(metrics.StageQuery, int64(len(txs)), time.Since(start))
	return txs, nil
}

// GetTransactionID returns the surrogate key assigned to signature in this epoch partition, if
// any. Keys are not shared across partitions: the same signature stored in another epoch has
// its own key there, and comparing ids from different epochs is meaningless.
func (db *DB) GetTransactionID(ctx context.Context, signature string) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT transaction_id FROM %s WHERE signature = $1`,
		entities.TransactionIDs.QualifiedName(db.Name))

	var id int64
	err := db.Client.QueryRow(ctx, query, signature).Scan(&id)
	if postgres.IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("get transaction id", err)
	}
	return id, true, nil
}

// CountSignatureKeys returns how many surrogate keys exist for signature in this epoch
// partition. Dedup keeps it at most 1 per partition, not across epochs.
func (db *DB) CountSignatureKeys(ctx context.Context, signature string) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE signature = $1`,
		entities.TransactionIDs.QualifiedName(db.Name))

	var n int64
	if err := db.Client.QueryRow(ctx, query, signature).Scan(&n); err != nil {
		return 0, classify("count signature keys", err)
	}
	return n, nil
}

// GetBlock returns the block row for slot, or ErrBlockNotFound.
func (db *DB) GetBlock(ctx context.Context, slot uint64) (*blockstore.Block, error) {
	query := fmt.Sprintf(`
		SELECT slot, blockhash, previous_blockhash, parent_slot, block_time, leader, transaction_count
		FROM %s
		WHERE slot = $1`,
		entities.Blocks.QualifiedName(db.Name))

	rows, err := db.Client.Query(ctx, query, int64(slot))
	if err != nil {
		return nil, classify(fmt.Sprintf("get block %d", slot), err)
	}
	block, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[blockstore.Block])
	if postgres.IsNoRows(err) {
		return nil, fmt.Errorf("%w: slot %d in %s", ErrBlockNotFound, slot, db.Name)
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("get block %d", slot), err)
	}
	return block, nil
}

// LatestSlot returns the highest slot with a block row. found is false for a partition with no blocks.
func (db *DB) LatestSlot(ctx context.Context) (uint64, bool, error) {
	query := fmt.Sprintf(`SELECT max(slot) FROM %s`, entities.Blocks.QualifiedName(db.Name))

	var slot *int64
	if err := db.Client.QueryRow(ctx, query).Scan(&slot); err != nil {
		return 0, false, classify("latest slot", err)
	}
	if slot == nil {
		return 0, false, nil
	}
	return uint64(*slot), true, nil
}
