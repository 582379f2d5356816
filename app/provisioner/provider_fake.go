package provisioner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/canopy-network/blockstore/pkg/rpc"
)

// FakeProvider records the partitions it was asked for without touching a database.
type FakeProvider struct {
	Logger *zap.Logger

	mu      sync.Mutex
	ensured []rpc.EpochRef
	// FailFor makes EnsurePartition fail for the listed epochs.
	FailFor map[rpc.EpochRef]error
}

// NewFakeProvider creates a new fake provider.
func NewFakeProvider(logger *zap.Logger) *FakeProvider {
	return &FakeProvider{Logger: logger, FailFor: map[rpc.EpochRef]error{}}
}

// EnsurePartition logs and records the call.
func (p *FakeProvider) EnsurePartition(_ context.Context, e rpc.EpochRef) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.FailFor[e]; ok {
		return "", err
	}
	p.ensured = append(p.ensured, e)
	p.Logger.Info("[provisioner/Provider=fake] ensure partition", zap.Uint64("epoch", e.Uint64()))
	return fmt.Sprintf("fake_epoch_%d", e), nil
}

// Ensured returns the epochs ensured so far, in call order.
func (p *FakeProvider) Ensured() []rpc.EpochRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rpc.EpochRef(nil), p.ensured...)
}

// Close is a no-op.
func (p *FakeProvider) Close() error { return nil }
