package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/db/transform"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/redis"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// StoreOpener returns the partition for an epoch without touching the database.
type StoreOpener func(e rpc.EpochRef) epoch.Store

// Publisher delivers slot notifications. *redis.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
	XAdd(ctx context.Context, stream string, values map[string]interface{}) string
}

var _ Publisher = (*redis.Client)(nil)

// Indexer routes produced blocks to their epoch partition. Partitions are initialized once per
// process; the PostgreSQL client behind them is owned by the caller.
type Indexer struct {
	Logger    *zap.Logger
	Schedule  rpc.EpochSchedule
	Leaders   rpc.LeaderFetcher // nil disables leader attribution
	Publisher Publisher         // nil disables notifications
	Metrics   *metrics.Ingest
	Config    Config

	open       StoreOpener
	partitions *xsync.Map[rpc.EpochRef, epoch.Store]
	initLocks  *xsync.Map[rpc.EpochRef, *sync.Mutex]
	pool       pond.Pool
}

// New returns an Indexer. Call Close to release its worker pool.
func New(logger *zap.Logger, schedule rpc.EpochSchedule, open StoreOpener, cfg Config) *Indexer {
	parallelism := Parallelism(cfg.MaxParallelism)
	cfg.MaxParallelism = parallelism
	if cfg.Prefix == "" {
		cfg.Prefix = epoch.DefaultPrefix
	}
	return &Indexer{
		Logger:     logger,
		Schedule:   schedule,
		Config:     cfg,
		open:       open,
		partitions: xsync.NewMap[rpc.EpochRef, epoch.Store](),
		initLocks:  xsync.NewMap[rpc.EpochRef, *sync.Mutex](),
		pool:       pond.NewPool(parallelism, pond.WithQueueSize(QueueSize(parallelism, 64))),
	}
}

// Close waits for submitted ingests and stops the worker pool.
func (ix *Indexer) Close() {
	ix.pool.StopAndWait()
}

// EnsurePartition returns the initialized partition for e. Concurrent callers for the same
// epoch wait on a single InitializeDB while other epochs proceed; a failed initialization is
// retried by the next call.
func (ix *Indexer) EnsurePartition(ctx context.Context, e rpc.EpochRef) (epoch.Store, error) {
	if store, ok := ix.partitions.Load(e); ok {
		return store, nil
	}

	mu, _ := ix.initLocks.LoadOrStore(e, &sync.Mutex{})
	mu.Lock()
	defer mu.Unlock()
	if store, ok := ix.partitions.Load(e); ok {
		return store, nil
	}

	store := ix.open(e)
	if err := store.InitializeDB(ctx); err != nil {
		return nil, fmt.Errorf("ensure partition for epoch %d: %w", e, err)
	}
	ix.partitions.Store(e, store)
	return store, nil
}

// Partition returns the partition for e if this process has initialized it, otherwise an
// uninitialized handle. Reads against a missing partition fail with epoch.ErrSchema.
func (ix *Indexer) Partition(e rpc.EpochRef) epoch.Store {
	if store, ok := ix.partitions.Load(e); ok {
		return store
	}
	return ix.open(e)
}

// IndexBlock converts the block's transactions, makes sure the epoch partition exists and
// writes the block in one transaction. A slot.indexed notification follows the commit.
func (ix *Indexer) IndexBlock(ctx context.Context, block *rpc.ProducedBlock) error {
	if block == nil {
		return fmt.Errorf("%w: nil block", epoch.ErrInvalidBatch)
	}
	start := time.Now()
	e := ix.Schedule.EpochOf(block.Slot)

	records, err := transform.ToRecords(block.Transactions, block.Slot)
	if err != nil {
		return fmt.Errorf("convert block %d: %w", block.Slot, err)
	}

	row := transform.Block(block)
	if row.Leader == nil {
		row.Leader = ix.attributeLeader(ctx, block.Slot)
	}

	store, err := ix.EnsurePartition(ctx, e)
	if err != nil {
		return err
	}
	if err := store.SaveBlock(ctx, row, records); err != nil {
		return err
	}

	ix.Logger.Debug("Indexed block",
		zap.Uint64("slot", block.Slot),
		zap.Uint64("epoch", e.Uint64()),
		zap.Int("transactions", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	ix.publish(ctx, store, row, e)
	return nil
}

// IndexBlocks ingests blocks concurrently on the worker pool. Every block is attempted; the
// returned error joins the failures, each naming its slot.
func (ix *Indexer) IndexBlocks(ctx context.Context, blocks []*rpc.ProducedBlock) error {
	if len(blocks) == 0 {
		return nil
	}

	group := ix.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	errs := make([]error, len(blocks))
	var attempted atomic.Int64

	for i, block := range blocks {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			attempted.Add(1)
			if err := ix.IndexBlock(groupCtx, block); err != nil {
				slot := uint64(0)
				if block != nil {
					slot = block.Slot
				}
				errs[i] = fmt.Errorf("slot %d: %w", slot, err)
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		ix.Logger.Warn("Block ingest group failed", zap.Error(err))
	}

	joined := errors.Join(errs...)
	// the group skips queued tasks once ctx is done
	if n := attempted.Load(); n < int64(len(blocks)) && ctx.Err() != nil {
		joined = errors.Join(joined, fmt.Errorf("%d of %d blocks not attempted: %w", int64(len(blocks))-n, len(blocks), ctx.Err()))
	}
	if joined != nil {
		ix.Logger.Warn("Some blocks failed to index", zap.Int("blocks", len(blocks)), zap.Error(joined))
	}
	return joined
}

// RecordsForSlot returns the stored records of slot from its epoch partition.
func (ix *Indexer) RecordsForSlot(ctx context.Context, slot uint64) ([]*blockstore.Transaction, error) {
	return ix.Partition(ix.Schedule.EpochOf(slot)).GetTransactionsForSlot(ctx, slot)
}

// TransactionsForSlot returns the transactions of slot in node form.
func (ix *Indexer) TransactionsForSlot(ctx context.Context, slot uint64) ([]rpc.TransactionInfo, error) {
	records, err := ix.RecordsForSlot(ctx, slot)
	if err != nil {
		return nil, err
	}
	out := make([]rpc.TransactionInfo, 0, len(records))
	for _, r := range records {
		info, err := transform.FromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

// attributeLeader looks up the scheduled leader of slot. Failures are logged and leave the
// leader unset; they never fail the ingest.
func (ix *Indexer) attributeLeader(ctx context.Context, slot uint64) *string {
	if ix.Leaders == nil || !ix.Config.AttributeLeaders {
		return nil
	}
	leaders, err := ix.Leaders.GetSlotLeaders(ctx, slot, slot)
	if err != nil || len(leaders) == 0 {
		ix.Logger.Warn("Leader attribution failed (non-fatal)", zap.Uint64("slot", slot), zap.Error(err))
		return nil
	}
	leader := leaders[0].Pubkey.String()
	return &leader
}

// publish is best-effort: a marshal or Redis failure is logged, never returned.
func (ix *Indexer) publish(ctx context.Context, store epoch.Store, row *blockstore.Block, e rpc.EpochRef) {
	if ix.Publisher == nil {
		return
	}

	event := &SlotIndexedEvent{
		Event:        EventSlotIndexed,
		Slot:         uint64(row.Slot),
		Epoch:        e.Uint64(),
		Partition:    store.DatabaseName(),
		Blockhash:    row.Blockhash,
		Transactions: int(row.TransactionCount),
		Timestamp:    time.Now().UTC(),
	}
	if row.Leader != nil {
		event.Leader = *row.Leader
	}

	payload, err := json.Marshal(event)
	if err != nil {
		ix.Logger.Warn("Failed to marshal slot.indexed event (non-fatal)", zap.Uint64("slot", event.Slot), zap.Error(err))
		return
	}

	channel := redis.SlotIndexedChannel(ix.Config.Prefix)
	ix.Publisher.Publish(ctx, channel, payload)
	ix.Publisher.XAdd(ctx, redis.SlotStream(ix.Config.Prefix), event.streamValues())

	ix.Logger.Debug("Published slot.indexed event",
		zap.Uint64("slot", event.Slot),
		zap.String("channel", channel))
}
