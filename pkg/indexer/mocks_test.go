package indexer

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// MockStore is a mock implementation of epoch.Store for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) DatabaseName() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockStore) EpochRef() rpc.EpochRef {
	args := m.Called()
	return args.Get(0).(rpc.EpochRef)
}

func (m *MockStore) Exists(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) InitializeDB(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) SaveTransactions(ctx context.Context, slot uint64, records []*blockstore.Transaction) error {
	args := m.Called(ctx, slot, records)
	return args.Error(0)
}

func (m *MockStore) SaveBlock(ctx context.Context, block *blockstore.Block, records []*blockstore.Transaction) error {
	args := m.Called(ctx, block, records)
	return args.Error(0)
}

func (m *MockStore) GetTransactionsForSlot(ctx context.Context, slot uint64) ([]*blockstore.Transaction, error) {
	args := m.Called(ctx, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*blockstore.Transaction), args.Error(1)
}

func (m *MockStore) GetTransactionID(ctx context.Context, signature string) (int64, bool, error) {
	args := m.Called(ctx, signature)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockStore) CountSignatureKeys(ctx context.Context, signature string) (int64, error) {
	args := m.Called(ctx, signature)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetBlock(ctx context.Context, slot uint64) (*blockstore.Block, error) {
	args := m.Called(ctx, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockstore.Block), args.Error(1)
}

func (m *MockStore) LatestSlot(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockStore) ScanCursor(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

func (m *MockStore) SaveScanCursor(ctx context.Context, next uint64) error {
	args := m.Called(ctx, next)
	return args.Error(0)
}

// MockLeaders is a mock implementation of rpc.LeaderFetcher for testing
type MockLeaders struct {
	mock.Mock
}

func (m *MockLeaders) GetSlotLeaders(ctx context.Context, from, to uint64) ([]rpc.LeaderData, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rpc.LeaderData), args.Error(1)
}

// MockPublisher is a mock implementation of Publisher for testing
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, channel string, message interface{}) {
	m.Called(ctx, channel, message)
}

func (m *MockPublisher) XAdd(ctx context.Context, stream string, values map[string]interface{}) string {
	args := m.Called(ctx, stream, values)
	return args.String(0)
}
