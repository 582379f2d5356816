package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/canopy-network/blockstore/pkg/retry"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// ErrBlockUnavailable is returned when the node has no block for a slot, either because the
// slot was skipped or because the node pruned it.
var ErrBlockUnavailable = errors.New("block unavailable")

// BlockSource fetches produced blocks from a node.
type BlockSource interface {
	FinalizedSlot(ctx context.Context) (uint64, error)
	BlocksInRange(ctx context.Context, from, to uint64) ([]uint64, error)
	GetBlock(ctx context.Context, slot uint64) (*ProducedBlock, error)
}

var _ BlockSource = (*SolanaClient)(nil)

// FinalizedSlot returns the highest slot the node reports at the configured commitment.
func (c *SolanaClient) FinalizedSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := retry.WithBackoff(ctx, c.retry, c.logger, "get_slot", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		slot, callErr = c.api.GetSlot(callCtx, c.commitment)
		return callErr
	})
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// BlocksInRange lists the slots in [from, to] that produced a block.
func (c *SolanaClient) BlocksInRange(ctx context.Context, from, to uint64) ([]uint64, error) {
	if to < from {
		return nil, fmt.Errorf("invalid slot range [%d, %d]", from, to)
	}

	var res solanarpc.BlocksResult
	err := retry.WithBackoff(ctx, c.retry, c.logger, "get_blocks", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		res, callErr = c.api.GetBlocks(callCtx, from, &to, c.commitment)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get blocks [%d, %d]: %w", from, to, err)
	}
	return []uint64(res), nil
}

// GetBlock fetches the block produced at slot with full transaction details.
func (c *SolanaClient) GetBlock(ctx context.Context, slot uint64) (*ProducedBlock, error) {
	rewards := false
	opts := &solanarpc.GetBlockOpts{
		Encoding:                       solana.EncodingBase64,
		TransactionDetails:             solanarpc.TransactionDetailsFull,
		Rewards:                        &rewards,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &solanarpc.MaxSupportedTransactionVersion0,
	}

	var res *solanarpc.GetBlockResult
	err := retry.WithBackoff(ctx, c.retry, c.logger, "get_block", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		res, callErr = c.api.GetBlockWithOpts(callCtx, slot, opts)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", slot, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: slot %d", ErrBlockUnavailable, slot)
	}

	return ConvertBlock(slot, res)
}

// ConvertBlock maps a getBlock response onto a ProducedBlock. Transactions keep block order.
func ConvertBlock(slot uint64, res *solanarpc.GetBlockResult) (*ProducedBlock, error) {
	block := &ProducedBlock{
		Slot:              slot,
		Blockhash:         res.Blockhash,
		PreviousBlockhash: res.PreviousBlockhash,
		ParentSlot:        res.ParentSlot,
		Transactions:      make([]TransactionInfo, 0, len(res.Transactions)),
	}
	if res.BlockTime != nil {
		block.BlockTime = int64(*res.BlockTime)
	}

	for i, twm := range res.Transactions {
		info, err := ConvertTransaction(twm)
		if err != nil {
			return nil, fmt.Errorf("slot %d transaction %d: %w", slot, i, err)
		}
		block.Transactions = append(block.Transactions, info)
	}
	return block, nil
}

// ConvertTransaction decodes one transaction of a getBlock response.
func ConvertTransaction(twm solanarpc.TransactionWithMeta) (TransactionInfo, error) {
	if twm.Transaction == nil {
		return TransactionInfo{}, errors.New("missing transaction payload")
	}
	tx, err := twm.GetTransaction()
	if err != nil {
		return TransactionInfo{}, fmt.Errorf("decode transaction: %w", err)
	}
	if len(tx.Signatures) == 0 {
		return TransactionInfo{}, errors.New("transaction has no signatures")
	}

	msg := tx.Message
	info := TransactionInfo{
		Signature:           tx.Signatures[0],
		RecentBlockhash:     msg.RecentBlockhash,
		Message:             msg,
		AddressLookupTables: []solana.MessageAddressTableLookup(msg.AddressTableLookups),
	}
	info.WritableAccounts, info.ReadableAccounts = splitAccounts(msg)

	for _, inst := range msg.Instructions {
		program, ok := programOf(msg, inst)
		if !ok {
			continue
		}
		switch {
		case program.Equals(solana.VoteProgramID):
			info.IsVote = true
		case program.Equals(solana.ComputeBudget):
			applyComputeBudget(&info, inst.Data)
		}
	}

	if meta := twm.Meta; meta != nil {
		if meta.Err != nil {
			raw, err := json.Marshal(meta.Err)
			if err != nil {
				return TransactionInfo{}, fmt.Errorf("encode transaction error: %w", err)
			}
			info.Err = raw
		}
		info.CUConsumed = meta.ComputeUnitsConsumed
		info.WritableAccounts = append(info.WritableAccounts, meta.LoadedAddresses.Writable...)
		info.ReadableAccounts = append(info.ReadableAccounts, meta.LoadedAddresses.ReadOnly...)
	}

	return info, nil
}

// splitAccounts partitions the static account keys by the header's signer and read-only counts.
func splitAccounts(msg solana.Message) (writable, readable []solana.PublicKey) {
	n := len(msg.AccountKeys)
	signed := int(msg.Header.NumRequiredSignatures)
	writableSigned := signed - int(msg.Header.NumReadonlySignedAccounts)
	writableUnsigned := n - int(msg.Header.NumReadonlyUnsignedAccounts)

	writable = make([]solana.PublicKey, 0, n)
	readable = make([]solana.PublicKey, 0, n)
	for i, key := range msg.AccountKeys {
		var w bool
		if i < signed {
			w = i < writableSigned
		} else {
			w = i < writableUnsigned
		}
		if w {
			writable = append(writable, key)
		} else {
			readable = append(readable, key)
		}
	}
	return writable, readable
}

func programOf(msg solana.Message, inst solana.CompiledInstruction) (solana.PublicKey, bool) {
	idx := int(inst.ProgramIDIndex)
	if idx >= len(msg.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return msg.AccountKeys[idx], true
}

// applyComputeBudget records the unit limit and unit price a transaction requests.
// Undecodable instructions are ignored; the node already executed them.
func applyComputeBudget(info *TransactionInfo, data []byte) {
	inst, err := computebudget.DecodeInstruction(nil, data)
	if err != nil {
		return
	}
	switch v := inst.Impl.(type) {
	case *computebudget.SetComputeUnitLimit:
		units := v.Units
		info.CURequested = &units
	case *computebudget.SetComputeUnitPrice:
		price := v.MicroLamports
		info.PrioritizationFees = &price
	}
}
