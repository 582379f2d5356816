package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/canopy-network/blockstore/pkg/retry"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// MaxSlotLeadersPerRequest is the node's cap on getSlotLeaders.
const MaxSlotLeadersPerRequest uint64 = 5000

// Opts is the set of options for a new SolanaClient.
type Opts struct {
	Endpoint   string
	Timeout    time.Duration
	Commitment solanarpc.CommitmentType
	Retry      retry.Config
	Logger     *zap.Logger
}

// nodeAPI is the subset of the JSON-RPC client used here.
type nodeAPI interface {
	GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error)
	GetBlocks(ctx context.Context, startSlot uint64, endSlot *uint64, commitment solanarpc.CommitmentType) (solanarpc.BlocksResult, error)
	GetBlockWithOpts(ctx context.Context, slot uint64, opts *solanarpc.GetBlockOpts) (*solanarpc.GetBlockResult, error)
	GetSlotLeaders(ctx context.Context, start uint64, limit uint64) ([]solana.PublicKey, error)
	GetEpochSchedule(ctx context.Context) (*solanarpc.GetEpochScheduleResult, error)
	GetEpochInfo(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetEpochInfoResult, error)
}

// SolanaClient implements Client over the node's JSON-RPC API.
type SolanaClient struct {
	api        nodeAPI
	timeout    time.Duration
	commitment solanarpc.CommitmentType
	retry      retry.Config
	logger     *zap.Logger
}

// NewSolanaClient creates a new SolanaClient with the given options.
func NewSolanaClient(o Opts) *SolanaClient {
	return newSolanaClient(solanarpc.New(o.Endpoint), o)
}

func newSolanaClient(api nodeAPI, o Opts) *SolanaClient {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Commitment == "" {
		o.Commitment = solanarpc.CommitmentFinalized
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry = retry.RPCConfig()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &SolanaClient{
		api:        api,
		timeout:    o.Timeout,
		commitment: o.Commitment,
		retry:      o.Retry,
		logger:     o.Logger,
	}
}

// GetSlotLeaders returns one LeaderData per slot in [from, to]. The range is split into
// requests of at most MaxSlotLeadersPerRequest slots.
func (c *SolanaClient) GetSlotLeaders(ctx context.Context, from, to uint64) ([]LeaderData, error) {
	if to < from {
		return nil, fmt.Errorf("invalid slot range [%d, %d]", from, to)
	}

	out := make([]LeaderData, 0, to-from+1)
	for start := from; ; {
		limit := to - start + 1
		if limit > MaxSlotLeadersPerRequest {
			limit = MaxSlotLeadersPerRequest
		}

		var leaders []solana.PublicKey
		err := retry.WithBackoff(ctx, c.retry, c.logger, "get_slot_leaders", func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			var callErr error
			leaders, callErr = c.api.GetSlotLeaders(callCtx, start, limit)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("get slot leaders [%d, %d]: %w", start, start+limit-1, err)
		}
		if uint64(len(leaders)) != limit {
			return nil, fmt.Errorf("%w: requested %d slots from %d, node returned %d",
				ErrLeadersUnavailable, limit, start, len(leaders))
		}

		for i, pk := range leaders {
			out = append(out, LeaderData{LeaderSlot: start + uint64(i), Pubkey: pk})
		}

		// start+limit-1 == to ends the loop before start can wrap at the top of the range
		if start+limit-1 == to {
			break
		}
		start += limit
	}

	return out, nil
}

// EpochSchedule fetches the ledger's epoch schedule.
func (c *SolanaClient) EpochSchedule(ctx context.Context) (EpochSchedule, error) {
	var res *solanarpc.GetEpochScheduleResult
	err := retry.WithBackoff(ctx, c.retry, c.logger, "get_epoch_schedule", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		res, callErr = c.api.GetEpochSchedule(callCtx)
		return callErr
	})
	if err != nil {
		return EpochSchedule{}, fmt.Errorf("get epoch schedule: %w", err)
	}

	return EpochSchedule{
		SlotsPerEpoch:            res.SlotsPerEpoch,
		LeaderScheduleSlotOffset: res.LeaderScheduleSlotOffset,
		Warmup:                   res.Warmup,
		FirstNormalEpoch:         res.FirstNormalEpoch,
		FirstNormalSlot:          res.FirstNormalSlot,
	}, nil
}

// EpochInfo fetches the current epoch at the configured commitment.
func (c *SolanaClient) EpochInfo(ctx context.Context) (EpochInfo, error) {
	var res *solanarpc.GetEpochInfoResult
	err := retry.WithBackoff(ctx, c.retry, c.logger, "get_epoch_info", func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var callErr error
		res, callErr = c.api.GetEpochInfo(callCtx, c.commitment)
		return callErr
	})
	if err != nil {
		return EpochInfo{}, fmt.Errorf("get epoch info: %w", err)
	}

	return EpochInfo{
		Epoch:        EpochRef(res.Epoch),
		AbsoluteSlot: res.AbsoluteSlot,
		SlotIndex:    res.SlotIndex,
		SlotsInEpoch: res.SlotsInEpoch,
	}, nil
}
