package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// HeadResult summarizes one head scan.
type HeadResult struct {
	// Start and End bound the scanned slot range, inclusive. End < Start when nothing was due.
	Start uint64
	End   uint64
	// Latest is the node's finalized slot when the scan began.
	Latest uint64
	// Blocks is how many produced blocks the range held.
	Blocks int
}

// CaughtUp reports whether the scan reached the finalized slot.
func (r HeadResult) CaughtUp() bool { return r.End >= r.Latest }

// ResumeFrom returns the first slot to scan. The scan cursor saved in the finalized epoch or
// the ResumeEpochs-1 before it wins; otherwise StartSlot, otherwise latest itself. Blocks
// stored past the cursor by a range that did not complete are scanned again.
func (a *App) ResumeFrom(ctx context.Context, latest uint64) (uint64, error) {
	current := a.Indexer.Schedule.EpochOf(latest)
	for i := 0; i < a.Config.ResumeEpochs && uint64(i) <= current.Uint64(); i++ {
		e := current - rpc.EpochRef(i)
		next, found, err := a.Indexer.Partition(e).ScanCursor(ctx)
		if errors.Is(err, epoch.ErrSchema) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("load scan cursor of epoch %d: %w", e, err)
		}
		if found {
			return next, nil
		}
	}

	if a.Config.StartSlot != nil {
		return *a.Config.StartSlot, nil
	}
	return latest, nil
}

// HeadScan indexes the produced blocks of the next BatchSlots slots up to the finalized slot.
// Blocks that are already stored count as indexed. The cursor, in memory and in the store,
// only advances when every block in the range is stored, so a failed range is scanned again
// in full, also after a restart.
func (a *App) HeadScan(ctx context.Context) (HeadResult, error) {
	latest, err := a.Source.FinalizedSlot(ctx)
	if err != nil {
		return HeadResult{}, err
	}
	a.latest.Store(latest)

	if !a.resumed.Load() {
		next, err := a.ResumeFrom(ctx, latest)
		if err != nil {
			return HeadResult{}, err
		}
		a.next.Store(next)
		a.resumed.Store(true)
		a.Logger.Info("Resuming head scan", zap.Uint64("next_slot", next), zap.Uint64("finalized_slot", latest))
	}

	start := a.next.Load()
	if start > latest {
		return HeadResult{Start: start, End: latest, Latest: latest}, nil
	}
	end := latest
	if span := a.Config.BatchSlots; latest-start >= span {
		end = start + span - 1
	}
	res := HeadResult{Start: start, End: end, Latest: latest}

	slots, err := a.Source.BlocksInRange(ctx, start, end)
	if err != nil {
		return res, err
	}
	blocks, err := a.fetchBlocks(ctx, slots)
	if err != nil {
		return res, err
	}
	res.Blocks = len(blocks)
	a.attachLeaders(ctx, blocks, start, end)

	if failed := failures(a.Indexer.IndexBlocks(ctx, blocks)); len(failed) > 0 {
		return res, errors.Join(failed...)
	}
	if err := a.saveCursor(ctx, end+1); err != nil {
		return res, err
	}

	a.next.Store(end + 1)
	a.ready.Store(true)
	a.Logger.Debug("Head scan completed",
		zap.Uint64("range_start", start),
		zap.Uint64("range_end", end),
		zap.Uint64("finalized_slot", latest),
		zap.Int("blocks", len(blocks)))
	return res, nil
}

// saveCursor persists next in the partition of the last completed slot.
func (a *App) saveCursor(ctx context.Context, next uint64) error {
	store, err := a.Indexer.EnsurePartition(ctx, a.Indexer.Schedule.EpochOf(next-1))
	if err != nil {
		return err
	}
	if err := store.SaveScanCursor(ctx, next); err != nil {
		return fmt.Errorf("save scan cursor: %w", err)
	}
	return nil
}

// fetchBlocks loads slots concurrently and returns the blocks in slot order. Slots the node
// no longer has are skipped.
func (a *App) fetchBlocks(ctx context.Context, slots []uint64) ([]*rpc.ProducedBlock, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	group := a.fetchPool.NewGroupContext(ctx)
	groupCtx := group.Context()
	blocks := make([]*rpc.ProducedBlock, len(slots))
	errs := make([]error, len(slots))
	for i, slot := range slots {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			blocks[i], errs[i] = a.Source.GetBlock(groupCtx, slot)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*rpc.ProducedBlock, 0, len(slots))
	for i, b := range blocks {
		switch err := errs[i]; {
		case errors.Is(err, rpc.ErrBlockUnavailable):
			a.Logger.Debug("Block unavailable, skipping", zap.Uint64("slot", slots[i]))
		case err != nil:
			return nil, err
		default:
			out = append(out, b)
		}
	}
	return out, nil
}

// attachLeaders resolves the leaders of the whole range in one lookup. A failure leaves the
// leaders unset.
func (a *App) attachLeaders(ctx context.Context, blocks []*rpc.ProducedBlock, from, to uint64) {
	if a.Leaders == nil || len(blocks) == 0 {
		return
	}
	leaders, err := a.Leaders.GetSlotLeaders(ctx, from, to)
	if err != nil {
		a.Logger.Warn("Leader lookup failed (non-fatal)", zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		return
	}
	bySlot := make(map[uint64]solana.PublicKey, len(leaders))
	for _, l := range leaders {
		bySlot[l.LeaderSlot] = l.Pubkey
	}
	for _, b := range blocks {
		if pk, ok := bySlot[b.Slot]; ok && b.Leader == nil {
			b.Leader = &pk
		}
	}
}

// failures flattens err and drops duplicate-record errors, which mean the block is already stored.
func failures(err error) []error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*epoch.DuplicateRecordError); ok {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, failures(e)...)
		}
		return out
	}
	if errors.Is(err, epoch.ErrDuplicateRecord) {
		return nil
	}
	return []error{err}
}
