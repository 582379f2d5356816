package epoch

import (
	"context"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// Reader is the read side of one epoch partition.
type Reader interface {
	DatabaseName() string
	EpochRef() rpc.EpochRef
	Exists(ctx context.Context) (bool, error)

	GetTransactionsForSlot(ctx context.Context, slot uint64) ([]*blockstore.Transaction, error)
	GetTransactionID(ctx context.Context, signature string) (int64, bool, error)
	CountSignatureKeys(ctx context.Context, signature string) (int64, error)
	GetBlock(ctx context.Context, slot uint64) (*blockstore.Block, error)
	LatestSlot(ctx context.Context) (uint64, bool, error)
}

// Store is one epoch partition. *DB is the PostgreSQL implementation.
type Store interface {
	Reader

	InitializeDB(ctx context.Context) error
	SaveTransactions(ctx context.Context, slot uint64, records []*blockstore.Transaction) error
	SaveBlock(ctx context.Context, block *blockstore.Block, records []*blockstore.Transaction) error

	// ScanCursor returns the next slot the head scan has not completed. found is false
	// before the first SaveScanCursor.
	ScanCursor(ctx context.Context) (next uint64, found bool, err error)
	// SaveScanCursor moves the cursor forward to next. It never moves it back.
	SaveScanCursor(ctx context.Context, next uint64) error
}

var _ Store = (*DB)(nil)
