package epoch

import (
	"context"
	"fmt"

	"github.com/canopy-network/blockstore/pkg/db/entities"
	"github.com/canopy-network/blockstore/pkg/db/postgres"
)

// ScanCursor returns the next slot the head scan has not completed.
func (db *DB) ScanCursor(ctx context.Context) (uint64, bool, error) {
	query := fmt.Sprintf(`SELECT next_slot FROM %s`, entities.ScanCursor.QualifiedName(db.Name))

	var next int64
	err := db.Client.QueryRow(ctx, query).Scan(&next)
	if postgres.IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify("scan cursor", err)
	}
	return uint64(next), true, nil
}

// SaveScanCursor records next as the first slot not yet completed. A lower value than the
// stored one is ignored.
func (db *DB) SaveScanCursor(ctx context.Context, next uint64) error {
	cursor := entities.ScanCursor.QualifiedName(db.Name)
	query := fmt.Sprintf(`
		INSERT INTO %s AS c (id, next_slot) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE
		SET next_slot = GREATEST(c.next_slot, EXCLUDED.next_slot), updated_at = now()`, cursor)

	if err := db.Client.Exec(ctx, query, int64(next)); err != nil {
		return classify(fmt.Sprintf("save scan cursor %d", next), err)
	}
	return nil
}
