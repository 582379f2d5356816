package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/db/transform"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

func testKey(b byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func testTransaction(t *testing.T, seed byte) rpc.TransactionInfo {
	t.Helper()
	payer := testKey(seed)
	blockhash := solana.Hash(testKey(200))

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(testKey(99), solana.AccountMetaSlice{
				solana.Meta(payer).WRITE().SIGNER(),
			}, []byte{seed}),
		},
		blockhash,
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)

	var sig solana.Signature
	for i := range sig {
		sig[i] = seed
	}
	return rpc.TransactionInfo{Signature: sig, RecentBlockhash: blockhash, Message: tx.Message}
}

func testBlock(t *testing.T, slot uint64, seeds ...byte) *rpc.ProducedBlock {
	t.Helper()
	block := &rpc.ProducedBlock{
		Slot:              slot,
		Blockhash:         solana.Hash(testKey(byte(slot))),
		PreviousBlockhash: solana.Hash(testKey(byte(slot - 1))),
		ParentSlot:        slot - 1,
		BlockTime:         1_700_000_000,
	}
	for _, s := range seeds {
		block.Transactions = append(block.Transactions, testTransaction(t, s))
	}
	return block
}

// testSchedule has 32-slot epochs and no warmup, so epoch = slot / 32.
func testSchedule(t *testing.T) rpc.EpochSchedule {
	t.Helper()
	s, err := rpc.NewEpochSchedule(32, 32, false)
	require.NoError(t, err)
	return s
}

type openerSpy struct {
	mu     sync.Mutex
	stores map[rpc.EpochRef]*MockStore
	opened atomic.Int64
}

func newOpenerSpy(stores map[rpc.EpochRef]*MockStore) *openerSpy {
	return &openerSpy{stores: stores}
}

func (o *openerSpy) open(e rpc.EpochRef) epoch.Store {
	o.opened.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stores[e]
}

func newTestIndexer(t *testing.T, spy *openerSpy) *Indexer {
	t.Helper()
	ix := New(zaptest.NewLogger(t), testSchedule(t), spy.open, Config{MaxParallelism: 4, AttributeLeaders: true})
	t.Cleanup(ix.Close)
	return ix
}

func TestIndexBlockWritesToEpochPartition(t *testing.T) {
	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil).Once()
	store.On("DatabaseName").Return("rpc2a_epoch_3")
	store.On("SaveBlock", mock.Anything,
		mock.MatchedBy(func(b *blockstore.Block) bool { return b.Slot == 100 && b.TransactionCount == 2 }),
		mock.MatchedBy(func(r []*blockstore.Transaction) bool { return len(r) == 2 && r[0].Slot == 100 }),
	).Return(nil).Once()

	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, "blockstore:rpc2a:slot.indexed",
		mock.MatchedBy(func(payload interface{}) bool {
			var event SlotIndexedEvent
			if err := json.Unmarshal(payload.([]byte), &event); err != nil {
				return false
			}
			return event.Event == EventSlotIndexed && event.Slot == 100 && event.Epoch == 3 &&
				event.Partition == "rpc2a_epoch_3" && event.Transactions == 2
		}),
	).Once()
	publisher.On("XAdd", mock.Anything, "blockstore:rpc2a:slots", mock.Anything).Return("1-0").Once()

	spy := newOpenerSpy(map[rpc.EpochRef]*MockStore{3: store})
	ix := newTestIndexer(t, spy)
	ix.Publisher = publisher

	block := testBlock(t, 100, 1, 2)
	leader := testKey(7)
	block.Leader = &leader

	require.NoError(t, ix.IndexBlock(context.Background(), block))

	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestEnsurePartitionInitializesOnce(t *testing.T) {
	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil).Once()

	spy := newOpenerSpy(map[rpc.EpochRef]*MockStore{5: store})
	ix := newTestIndexer(t, spy)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ix.EnsurePartition(context.Background(), 5)
			assert.NoError(t, err)
			assert.Same(t, store, got)
		}()
	}
	wg.Wait()

	store.AssertNumberOfCalls(t, "InitializeDB", 1)
	assert.Equal(t, int64(1), spy.opened.Load())
}

func TestEnsurePartitionRetriesAfterFailure(t *testing.T) {
	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(epoch.ErrConnection).Once()
	store.On("InitializeDB", mock.Anything).Return(nil).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{5: store}))

	_, err := ix.EnsurePartition(context.Background(), 5)
	require.ErrorIs(t, err, epoch.ErrConnection)

	got, err := ix.EnsurePartition(context.Background(), 5)
	require.NoError(t, err)
	assert.Same(t, store, got)
	store.AssertExpectations(t)
}

func TestEnsurePartitionDoesNotBlockOtherEpochs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := &MockStore{}
	slow.On("InitializeDB", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(nil).Once()
	fast := &MockStore{}
	fast.On("InitializeDB", mock.Anything).Return(nil).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{5: slow, 6: fast}))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := ix.EnsurePartition(ctx, 5)
		done <- err
	}()
	<-started

	got, err := ix.EnsurePartition(ctx, 6)
	require.NoError(t, err)
	assert.Same(t, fast, got)
	assert.Same(t, slow, ix.Partition(5), "a partition being initialized still hands out a handle")

	close(release)
	require.NoError(t, <-done)
	got, err = ix.EnsurePartition(ctx, 5)
	require.NoError(t, err)
	assert.Same(t, slow, got)
	slow.AssertNumberOfCalls(t, "InitializeDB", 1)
	fast.AssertExpectations(t)
}

func TestIndexBlockAttributesMissingLeader(t *testing.T) {
	leader := testKey(42)
	leaders := &MockLeaders{}
	leaders.On("GetSlotLeaders", mock.Anything, uint64(64), uint64(64)).
		Return([]rpc.LeaderData{{LeaderSlot: 64, Pubkey: leader}}, nil).Once()

	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil)
	store.On("SaveBlock", mock.Anything,
		mock.MatchedBy(func(b *blockstore.Block) bool { return b.Leader != nil && *b.Leader == leader.String() }),
		mock.Anything,
	).Return(nil).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{2: store}))
	ix.Leaders = leaders

	require.NoError(t, ix.IndexBlock(context.Background(), testBlock(t, 64)))
	leaders.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestIndexBlockLeaderLookupFailureIsNonFatal(t *testing.T) {
	leaders := &MockLeaders{}
	leaders.On("GetSlotLeaders", mock.Anything, uint64(64), uint64(64)).
		Return(nil, rpc.ErrLeadersUnavailable).Once()

	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil)
	store.On("SaveBlock", mock.Anything,
		mock.MatchedBy(func(b *blockstore.Block) bool { return b.Leader == nil }),
		mock.Anything,
	).Return(nil).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{2: store}))
	ix.Leaders = leaders

	require.NoError(t, ix.IndexBlock(context.Background(), testBlock(t, 64)))
	store.AssertExpectations(t)
}

func TestIndexBlockSurfacesStoreErrors(t *testing.T) {
	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil)
	store.On("SaveBlock", mock.Anything, mock.Anything, mock.Anything).
		Return(&epoch.DuplicateRecordError{Schema: "rpc2a_epoch_3", Slot: 100}).Once()

	publisher := &MockPublisher{}
	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{3: store}))
	ix.Publisher = publisher

	err := ix.IndexBlock(context.Background(), testBlock(t, 100, 1))
	assert.ErrorIs(t, err, epoch.ErrDuplicateRecord)
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndexBlocksJoinsErrors(t *testing.T) {
	store := &MockStore{}
	store.On("InitializeDB", mock.Anything).Return(nil).Once()
	store.On("SaveBlock", mock.Anything,
		mock.MatchedBy(func(b *blockstore.Block) bool { return b.Slot == 33 }), mock.Anything,
	).Return(epoch.ErrConnection)
	store.On("SaveBlock", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{1: store}))

	blocks := []*rpc.ProducedBlock{
		testBlock(t, 32, 1),
		testBlock(t, 33, 2),
		testBlock(t, 34, 3),
		testBlock(t, 35),
	}
	err := ix.IndexBlocks(context.Background(), blocks)
	require.Error(t, err)
	assert.ErrorIs(t, err, epoch.ErrConnection)
	assert.Contains(t, err.Error(), "slot 33")

	store.AssertNumberOfCalls(t, "SaveBlock", len(blocks))
	store.AssertNumberOfCalls(t, "InitializeDB", 1)
}

func TestIndexBlocksSpansEpochs(t *testing.T) {
	stores := map[rpc.EpochRef]*MockStore{}
	for e := rpc.EpochRef(0); e < 4; e++ {
		s := &MockStore{}
		s.On("InitializeDB", mock.Anything).Return(nil).Once()
		s.On("SaveBlock", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		stores[e] = s
	}
	ix := newTestIndexer(t, newOpenerSpy(stores))

	var blocks []*rpc.ProducedBlock
	for slot := uint64(1); slot < 128; slot += 7 {
		blocks = append(blocks, testBlock(t, slot, byte(slot)))
	}
	require.NoError(t, ix.IndexBlocks(context.Background(), blocks))

	total := 0
	for _, s := range stores {
		s.AssertExpectations(t)
		total += len(s.Calls) - 1
	}
	assert.Equal(t, len(blocks), total)
}

func TestIndexBlocksCancelled(t *testing.T) {
	ix := newTestIndexer(t, newOpenerSpy(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ix.IndexBlocks(ctx, []*rpc.ProducedBlock{testBlock(t, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransactionsForSlot(t *testing.T) {
	info := testTransaction(t, 9)
	record, err := transform.ToRecord(&info, 70)
	require.NoError(t, err)

	store := &MockStore{}
	store.On("GetTransactionsForSlot", mock.Anything, uint64(70)).
		Return([]*blockstore.Transaction{record}, nil).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{2: store}))

	got, err := ix.TransactionsForSlot(context.Background(), 70)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, info.Signature, got[0].Signature)
	assert.Equal(t, info.RecentBlockhash, got[0].RecentBlockhash)
}

func TestTransactionsForSlotMissingPartition(t *testing.T) {
	store := &MockStore{}
	store.On("GetTransactionsForSlot", mock.Anything, uint64(70)).
		Return(nil, errors.Join(epoch.ErrSchema, errors.New("relation does not exist"))).Once()

	ix := newTestIndexer(t, newOpenerSpy(map[rpc.EpochRef]*MockStore{2: store}))

	_, err := ix.TransactionsForSlot(context.Background(), 70)
	assert.ErrorIs(t, err, epoch.ErrSchema)
}

func TestParallelismAndQueueSize(t *testing.T) {
	assert.Equal(t, 12, Parallelism(12))
	assert.Equal(t, 256, Parallelism(10_000))
	assert.GreaterOrEqual(t, Parallelism(0), 2)
	assert.LessOrEqual(t, Parallelism(0), 32)

	assert.Equal(t, 256, QueueSize(1, 1))
	assert.Equal(t, 640, QueueSize(10, 64))
	assert.Equal(t, 65536, QueueSize(1000, 1000))
}
