package rpc

import (
	"context"
	"errors"
)

// ErrLeadersUnavailable is returned when the node cannot resolve the leader of every slot in a range,
// typically because the range reaches into an epoch whose schedule is not known yet.
var ErrLeadersUnavailable = errors.New("slot leaders unavailable")

// LeaderFetcher resolves which validators lead the slots of an inclusive range [from, to].
type LeaderFetcher interface {
	GetSlotLeaders(ctx context.Context, from, to uint64) ([]LeaderData, error)
}
