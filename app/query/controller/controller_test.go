package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/blockstore/app/query/types"
	"github.com/canopy-network/blockstore/pkg/db/models/blockstore"
	"github.com/canopy-network/blockstore/pkg/db/postgres/epoch"
	"github.com/canopy-network/blockstore/pkg/metrics"
	"github.com/canopy-network/blockstore/pkg/rpc"
)

// fakeReader serves one epoch from memory. Any other epoch behaves like a missing partition.
type fakeReader struct {
	epoch  rpc.EpochRef
	exists bool
	txs    map[uint64][]*blockstore.Transaction
	blocks map[uint64]*blockstore.Block
	ids    map[string]int64
	err    error
}

func (f *fakeReader) DatabaseName() string   { return fmt.Sprintf("rpc2a_epoch_%d", f.epoch) }
func (f *fakeReader) EpochRef() rpc.EpochRef { return f.epoch }

func (f *fakeReader) Exists(context.Context) (bool, error) { return f.exists, nil }

func (f *fakeReader) missing() error {
	if f.err != nil {
		return f.err
	}
	if !f.exists {
		return fmt.Errorf("%w: relation does not exist", epoch.ErrSchema)
	}
	return nil
}

func (f *fakeReader) GetTransactionsForSlot(_ context.Context, slot uint64) ([]*blockstore.Transaction, error) {
	if err := f.missing(); err != nil {
		return nil, err
	}
	if txs, ok := f.txs[slot]; ok {
		return txs, nil
	}
	return []*blockstore.Transaction{}, nil
}

func (f *fakeReader) GetTransactionID(_ context.Context, signature string) (int64, bool, error) {
	if err := f.missing(); err != nil {
		return 0, false, err
	}
	id, ok := f.ids[signature]
	return id, ok, nil
}

func (f *fakeReader) CountSignatureKeys(_ context.Context, signature string) (int64, error) {
	if _, ok := f.ids[signature]; ok {
		return 1, nil
	}
	return 0, nil
}

func (f *fakeReader) GetBlock(_ context.Context, slot uint64) (*blockstore.Block, error) {
	if err := f.missing(); err != nil {
		return nil, err
	}
	if b, ok := f.blocks[slot]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: slot %d", epoch.ErrBlockNotFound, slot)
}

func (f *fakeReader) LatestSlot(context.Context) (uint64, bool, error) {
	if err := f.missing(); err != nil {
		return 0, false, err
	}
	var latest uint64
	for slot := range f.blocks {
		if slot > latest {
			latest = slot
		}
	}
	return latest, len(f.blocks) > 0, nil
}

type fakeLeaders struct {
	err error
}

func (f *fakeLeaders) GetSlotLeaders(_ context.Context, from, to uint64) ([]rpc.LeaderData, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []rpc.LeaderData
	for s := from; s <= to; s++ {
		out = append(out, rpc.LeaderData{LeaderSlot: s, Pubkey: solana.SystemProgramID})
	}
	return out, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, reader *fakeReader, mutate ...func(*types.App)) http.Handler {
	t.Helper()
	schedule, err := rpc.NewEpochSchedule(32, 32, false)
	require.NoError(t, err)

	app := &types.App{
		Schedule: schedule,
		Partitions: func(e rpc.EpochRef) epoch.Reader {
			if e == reader.epoch {
				return reader
			}
			return &fakeReader{epoch: e}
		},
		Leaders: &fakeLeaders{},
		Checks:  map[string]types.Pinger{"postgres": pingFunc(func(context.Context) error { return nil })},
		Logger:  zaptest.NewLogger(t),
	}
	for _, m := range mutate {
		m(app)
	}

	router, err := NewController(app).NewRouter()
	require.NoError(t, err)
	return WithCORS(router)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func epoch3Reader() *fakeReader {
	return &fakeReader{
		epoch:  3,
		exists: true,
		txs: map[uint64][]*blockstore.Transaction{
			100: {
				{Signature: "A", Slot: 100, RecentBlockhash: "h", Message: "bQ=="},
				{Signature: "B", Slot: 100, RecentBlockhash: "h", Message: "bQ=="},
			},
		},
		blocks: map[uint64]*blockstore.Block{
			100: {Slot: 100, Blockhash: "h100", ParentSlot: 99, BlockTime: time.Unix(1_700_000_000, 0).UTC(), TransactionCount: 2},
		},
		ids: map[string]int64{"A": 1, "B": 2},
	}
}

func TestSlotTransactions(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/slots/100/transactions")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[transactionsResponse](t, rec)
	assert.Equal(t, uint64(100), body.Slot)
	assert.Equal(t, uint64(3), body.Epoch)
	assert.Equal(t, "rpc2a_epoch_3", body.Partition)
	require.Len(t, body.Transactions, 2)
	assert.Equal(t, "A", body.Transactions[0].Signature)
}

func TestSlotTransactionsEmptySlot(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/slots/101/transactions")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[transactionsResponse](t, rec)
	assert.Empty(t, body.Transactions)
}

func TestSlotTransactionsMissingPartition(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/slots/1000/transactions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "epoch not indexed", decode[errorResponse](t, rec).Error)
}

func TestEpochSlotTransactions(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/epochs/3/slots/100/transactions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[transactionsResponse](t, rec).Transactions, 2)

	rec = get(t, h, "/epochs/4/slots/100/transactions")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadPathParameters(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	for _, path := range []string{
		"/slots/abc/transactions",
		"/slots/-1/transactions",
		"/epochs/x/slots/100/transactions",
		"/epochs/3/slots/1e3/transactions",
		"/slots/abc/block",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, h, path).Code, path)
	}
}

func TestStoreErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", epoch.ErrConnection), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		reader := epoch3Reader()
		reader.err = tt.err
		rec := get(t, newTestRouter(t, reader), "/slots/100/transactions")
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}

func TestEpoch(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/epochs/3")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[epochResponse](t, rec)
	assert.Equal(t, "rpc2a_epoch_3", body.Partition)
	assert.Equal(t, uint64(96), body.FirstSlot)
	assert.Equal(t, uint64(127), body.LastSlot)
	assert.True(t, body.Indexed)
	require.NotNil(t, body.LatestSlot)
	assert.Equal(t, uint64(100), *body.LatestSlot)

	rec = get(t, h, "/epochs/4")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[epochResponse](t, rec)
	assert.False(t, body.Indexed)
	assert.Nil(t, body.LatestSlot)
	assert.Equal(t, uint64(128), body.FirstSlot)
}

func TestEpochs(t *testing.T) {
	h := newTestRouter(t, epoch3Reader(), func(app *types.App) {
		app.Catalog = func(context.Context) ([]rpc.EpochRef, error) { return []rpc.EpochRef{3, 4}, nil }
	})

	rec := get(t, h, "/epochs")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[epochsResponse](t, rec)
	require.Len(t, body.Epochs, 2)
	assert.Equal(t, "rpc2a_epoch_3", body.Epochs[0].Partition)
	assert.Equal(t, uint64(128), body.Epochs[1].FirstSlot)
	assert.Equal(t, uint64(159), body.Epochs[1].LastSlot)

	failing := newTestRouter(t, epoch3Reader(), func(app *types.App) {
		app.Catalog = func(context.Context) ([]rpc.EpochRef, error) { return nil, fmt.Errorf("list: %w", epoch.ErrConnection) }
	})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, failing, "/epochs").Code)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, newTestRouter(t, epoch3Reader()), "/epochs").Code)
}

func TestSlotBlock(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/slots/100/block")
	require.Equal(t, http.StatusOK, rec.Code)
	block := decode[blockstore.Block](t, rec)
	assert.Equal(t, "h100", block.Blockhash)
	assert.Equal(t, int64(2), block.TransactionCount)

	rec = get(t, h, "/slots/101/block")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "block not found", decode[errorResponse](t, rec).Error)
}

func TestSignature(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/epochs/3/signatures/B")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[signatureResponse](t, rec).TransactionID)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/epochs/3/signatures/Z").Code)
}

func TestLeaders(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())

	rec := get(t, h, "/leaders?from=10&to=12")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[leadersResponse](t, rec)
	require.Len(t, body.Leaders, 3)
	assert.Equal(t, uint64(12), body.Leaders[2].LeaderSlot)
	assert.Equal(t, solana.SystemProgramID, body.Leaders[2].Pubkey)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/leaders?from=12&to=10").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/leaders?from=1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, fmt.Sprintf("/leaders?from=0&to=%d", maxLeaderSpan)).Code)
}

func TestLeadersUnavailable(t *testing.T) {
	h := newTestRouter(t, epoch3Reader(), func(app *types.App) {
		app.Leaders = &fakeLeaders{err: fmt.Errorf("wrapped: %w", rpc.ErrLeadersUnavailable)}
	})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/leaders?from=1&to=2").Code)

	h = newTestRouter(t, epoch3Reader(), func(app *types.App) { app.Leaders = nil })
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/leaders?from=1&to=2").Code)
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())
	rec := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	h = newTestRouter(t, epoch3Reader(), func(app *types.App) {
		app.Checks["postgres"] = pingFunc(func(context.Context) error { return errors.New("down") })
	})
	rec = get(t, h, "/health")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "postgres connection error", decode[map[string]string](t, rec)["error"])
}

func TestMetricsRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewIngest(registry)
	m.IncBlocks()

	h := newTestRouter(t, epoch3Reader(), func(app *types.App) { app.Gatherer = registry })
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blockstore_blocks_ingested_total 1")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, epoch3Reader())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/slots/1/transactions", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
