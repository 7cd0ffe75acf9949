package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"ledger-service/pkg/cache"
	"ledger-service/pkg/cache/memory"
	"ledger-service/pkg/cache/mock"
	"ledger-service/pkg/chain"
	"ledger-service/pkg/ledger"
	ledgermem "ledger-service/pkg/ledger/memory"
	metricsmem "ledger-service/pkg/metrics/memory"
	"ledger-service/pkg/writer"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader counts store reads so tests can tell cache hits from misses.
type countingReader struct {
	Reader
	reads atomic.Int64
	err   error
}

func (r *countingReader) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	r.reads.Add(1)
	if r.err != nil {
		return ledger.Account{}, r.err
	}
	return r.Reader.GetAccount(ctx, id)
}

func (r *countingReader) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	r.reads.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.Reader.ListAccounts(ctx)
}

func (r *countingReader) ListAccountTransactions(ctx context.Context, id string, offset, limit int) ([]ledger.Transaction, int, error) {
	r.reads.Add(1)
	if r.err != nil {
		return nil, 0, r.err
	}
	return r.Reader.ListAccountTransactions(ctx, id, offset, limit)
}

func (r *countingReader) ListTransactions(ctx context.Context, offset, limit int) ([]ledger.TransactionView, int, error) {
	r.reads.Add(1)
	if r.err != nil {
		return nil, 0, r.err
	}
	return r.Reader.ListTransactions(ctx, offset, limit)
}

type fixture struct {
	store   *ledgermem.Store
	reader  *countingReader
	engine  *ledger.Engine
	service *Service
	metrics *metricsmem.MemoryCollector
}

func newFixture(t *testing.T, c Cache) *fixture {
	t.Helper()
	ctx := context.Background()

	store := ledgermem.New()
	require.NoError(t, store.CreateAccount(ctx, ledger.Account{
		ID: "1", AccountNumber: "1001", AccountType: ledger.Checking, AccountHolder: "John Doe",
	}))
	require.NoError(t, store.CreateAccount(ctx, ledger.Account{
		ID: "2", AccountNumber: "1002", AccountType: ledger.Savings, AccountHolder: "Jane Smith",
	}))

	collector := metricsmem.NewMemoryCollector()
	reader := &countingReader{Reader: store}
	service := NewService(reader, Config{Cache: c, TTL: time.Minute, Metrics: collector})

	engine := ledger.NewEngine(store, ledger.EngineConfig{})
	engine.OnCommit(service.Invalidate)

	return &fixture{store: store, reader: reader, engine: engine, service: service, metrics: collector}
}

func (f *fixture) post(t *testing.T, accountID string, txType ledger.TransactionType, amount string, to string) {
	t.Helper()
	d := decimal.RequireFromString(amount)
	_, err := f.engine.PostTransaction(context.Background(), accountID, ledger.Request{
		Type: txType, Amount: &d, Description: string(txType), ToAccountID: to,
	})
	require.NoError(t, err)
}

func newL1(t *testing.T) *memory.MemoryCache {
	t.Helper()
	c := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "L1", MaxSize: 100, DefaultTTL: time.Minute})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		name                string
		page, limit, def    int
		wantPage, wantLimit int
	}{
		{"defaults", 0, 0, 10, 1, 10},
		{"negative page", -3, 5, 10, 1, 5},
		{"negative limit", 2, -1, 20, 2, 20},
		{"capped limit", 1, 500, 10, 1, 100},
		{"max limit", 1, 100, 10, 1, 100},
		{"untouched", 4, 25, 10, 4, 25},
		{"huge page", 92233720368547760, 100, 10, MaxPage, 100},
		{"max int page", math.MaxInt, 1, 10, MaxPage, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := ClampPage(tt.page, tt.limit, tt.def)
			if page != tt.wantPage || limit != tt.wantLimit {
				t.Errorf("ClampPage(%d, %d) = (%d, %d), want (%d, %d)",
					tt.page, tt.limit, page, limit, tt.wantPage, tt.wantLimit)
			}
		})
	}
}

func TestTotalPages(t *testing.T) {
	for _, tt := range []struct{ total, limit, want int }{
		{0, 10, 0}, {1, 10, 1}, {10, 10, 1}, {11, 10, 2}, {25, 20, 2},
	} {
		if got := TotalPages(tt.total, tt.limit); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.limit, got, tt.want)
		}
	}
}

func TestListAccountTransactions_Pagination(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 12; i++ {
		f.post(t, "1", ledger.Deposit, "10", "")
	}
	f.post(t, "1", ledger.Transfer, "5", "2")
	f.post(t, "2", ledger.Deposit, "1", "")

	ctx := context.Background()
	page, err := f.service.ListAccountTransactions(ctx, "1", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 13, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.Limit)
	assert.Len(t, page.Transactions, 5)

	last, err := f.service.ListAccountTransactions(ctx, "1", 3, 5)
	require.NoError(t, err)
	assert.Len(t, last.Transactions, 3)

	// The transfer shows up on the destination's page too.
	dest, err := f.service.ListAccountTransactions(ctx, "2", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, dest.Total)
	assert.Equal(t, DefaultAccountLimit, dest.Limit)
	assert.Equal(t, 1, dest.Page)
	assert.Equal(t, ledger.Deposit, dest.Transactions[0].Type, "newest first")
	assert.Equal(t, ledger.Transfer, dest.Transactions[1].Type)
}

func TestListAccountTransactions_SecondPageOfTwenty(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int
	engine := ledger.NewEngine(f.store, ledger.EngineConfig{
		Now: func() time.Time { return base.Add(time.Duration(n) * time.Minute) },
	})
	for n = 1; n <= 20; n++ {
		amount := decimal.NewFromInt(10)
		_, err := engine.PostTransaction(ctx, "1", ledger.Request{
			Type: ledger.Deposit, Amount: &amount, Description: fmt.Sprintf("tx-%02d", n),
		})
		require.NoError(t, err)
	}

	page, err := f.service.ListAccountTransactions(ctx, "1", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, page.Total)
	assert.Equal(t, 4, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.Limit)

	// Rows 6-10 of the newest-first listing.
	var got []string
	for i, tx := range page.Transactions {
		got = append(got, tx.Description)
		if i > 0 {
			assert.True(t, tx.CreatedAt.Before(page.Transactions[i-1].CreatedAt), "row %d is not older than row %d", i, i-1)
		}
	}
	assert.Equal(t, []string{"tx-15", "tx-14", "tx-13", "tx-12", "tx-11"}, got)
}

func TestListAccountTransactions_HugePageIsEmpty(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, "1", ledger.Deposit, "10", "")

	page, err := f.service.ListAccountTransactions(context.Background(), "1", 92233720368547760, 100)
	require.NoError(t, err)
	assert.Equal(t, MaxPage, page.Page)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Transactions)
}

func TestListAccountTransactions_EmptyPageIsNotNull(t *testing.T) {
	f := newFixture(t, nil)

	page, err := f.service.ListAccountTransactions(context.Background(), "1", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Transactions)
	assert.Zero(t, page.Total)
	assert.Zero(t, page.TotalPages)
}

func TestListAccountTransactions_UnknownAccount(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.ListAccountTransactions(context.Background(), "999", 1, 10)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestListTransactions_Annotated(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, "1", ledger.Deposit, "100", "")
	f.post(t, "2", ledger.Deposit, "50", "")

	page, err := f.service.ListTransactions(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultGlobalLimit, page.Limit)
	require.Len(t, page.Transactions, 2)

	newest := page.Transactions[0]
	assert.Equal(t, "2", newest.AccountID)
	assert.Equal(t, "Jane Smith", newest.AccountHolder)
	assert.Equal(t, "****1002", newest.AccountNumber)
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t, nil)

	a, err := f.service.GetAccount(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", a.AccountHolder)

	_, err = f.service.GetAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t, nil)

	accounts, err := f.service.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "1", accounts[0].ID)
}

func TestStorageFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.reader.err = errors.New("connection refused")
	ctx := context.Background()

	_, err := f.service.ListAccountTransactions(ctx, "1", 1, 10)
	require.True(t, ledger.IsStorage(err))
	var le *ledger.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Failed to fetch transactions", le.Message)

	_, err = f.service.ListTransactions(ctx, 1, 10)
	assert.True(t, ledger.IsStorage(err))

	_, err = f.service.ListAccounts(ctx)
	assert.True(t, ledger.IsStorage(err))
}

func TestCache_HitsAvoidStore(t *testing.T) {
	f := newFixture(t, newL1(t))
	ctx := context.Background()
	f.post(t, "1", ledger.Deposit, "100", "")

	first, err := f.service.ListAccountTransactions(ctx, "1", 1, 10)
	require.NoError(t, err)
	reads := f.reader.reads.Load()

	second, err := f.service.ListAccountTransactions(ctx, "1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, reads, f.reader.reads.Load(), "second read should be served from cache")
	assert.Equal(t, first.Total, second.Total)
	assert.True(t, first.Transactions[0].Amount.Equal(second.Transactions[0].Amount))
	assert.Equal(t, first.Transactions[0].CreatedAt, second.Transactions[0].CreatedAt)

	q := f.metrics.Query(KindAccountTransactions)
	require.NotNil(t, q)
	assert.Equal(t, int64(2), q.Total)
	assert.Equal(t, int64(1), q.CacheHits)
}

func TestCache_PostingInvalidatesTouchedViews(t *testing.T) {
	f := newFixture(t, newL1(t))
	ctx := context.Background()

	_, err := f.service.ListAccountTransactions(ctx, "2", 1, 10)
	require.NoError(t, err)
	_, err = f.service.ListTransactions(ctx, 1, 20)
	require.NoError(t, err)
	accounts, err := f.service.ListAccounts(ctx)
	require.NoError(t, err)
	assert.True(t, accounts[1].Balance.IsZero())

	f.post(t, "1", ledger.Deposit, "500", "")
	f.post(t, "1", ledger.Transfer, "200", "2")

	dest, err := f.service.ListAccountTransactions(ctx, "2", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, dest.Total)

	global, err := f.service.ListTransactions(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, global.Total)

	accounts, err = f.service.ListAccounts(ctx)
	require.NoError(t, err)
	assert.True(t, accounts[1].Balance.Equal(decimal.NewFromInt(200)))

	a, err := f.service.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(300)))
}

func TestCache_NotFoundIsNotCached(t *testing.T) {
	f := newFixture(t, newL1(t))
	ctx := context.Background()

	_, err := f.service.GetAccount(ctx, "3")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	_, err = f.service.GetAccount(ctx, "3")
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, int64(2), f.reader.reads.Load())
}

func TestInvalidate_DropsTouchedKeys(t *testing.T) {
	layer := mock.NewMockLayer("recorder")
	f := newFixture(t, layer)

	f.post(t, "1", ledger.Deposit, "50", "")
	assert.ElementsMatch(t, []string{cache.AccountPagePrefix("1"), cache.GlobalPagePrefix()}, layer.Prefixes())
	assert.ElementsMatch(t, []string{cache.AccountKey("1"), cache.AccountsKey()}, layer.Deleted())

	prefixes, deleted := len(layer.Prefixes()), len(layer.Deleted())
	f.post(t, "1", ledger.Transfer, "20", "2")

	assert.ElementsMatch(t, []string{
		cache.AccountPagePrefix("1"),
		cache.AccountPagePrefix("2"),
		cache.GlobalPagePrefix(),
	}, layer.Prefixes()[prefixes:])
	assert.ElementsMatch(t, []string{
		cache.AccountKey("1"),
		cache.AccountKey("2"),
		cache.AccountsKey(),
	}, layer.Deleted()[deleted:])
}

func TestCache_FailuresFallThrough(t *testing.T) {
	broken := mock.NewMockLayer("broken")
	broken.GetFunc = func(ctx context.Context, key string) ([]byte, error) {
		return nil, cache.ErrLayerUnavailable
	}
	broken.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		return cache.ErrLayerUnavailable
	}

	f := newFixture(t, broken)
	f.post(t, "1", ledger.Deposit, "10", "")

	page, err := f.service.ListAccountTransactions(context.Background(), "1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Positive(t, broken.SetCalls())
}

func TestCache_UndecodableEntryIsReloaded(t *testing.T) {
	l1 := newL1(t)
	f := newFixture(t, l1)
	ctx := context.Background()

	require.NoError(t, l1.Set(ctx, cache.AccountKey("1"), []byte("{not json"), time.Minute))

	a, err := f.service.GetAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "John Doe", a.AccountHolder)
}

func TestCache_InvalidationDuringLoadSkipsFill(t *testing.T) {
	l1 := newL1(t)
	f := newFixture(t, l1)
	ctx := context.Background()

	// Simulate a posting committing while the loader is reading the store.
	f.reader.Reader = interleavedReader{Reader: f.store, during: func() {
		f.service.Invalidate(ctx, ledger.Transaction{AccountID: "1"})
	}}

	_, err := f.service.GetAccount(ctx, "1")
	require.NoError(t, err)

	_, err = l1.Get(ctx, cache.AccountKey("1"))
	assert.True(t, cache.IsNotFound(err), "a load that raced an invalidation must not fill the cache")
}

type interleavedReader struct {
	Reader
	during func()
}

func (r interleavedReader) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	a, err := r.Reader.GetAccount(ctx, id)
	r.during()
	return a, err
}

func TestCache_ThroughChain(t *testing.T) {
	l1 := newL1(t)
	l2 := newL1(t)
	c, err := chain.New(chain.Config{}, l1, l2)
	require.NoError(t, err)

	f := newFixture(t, c)
	ctx := context.Background()
	f.post(t, "1", ledger.Deposit, "10", "")

	_, err = f.service.ListTransactions(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, l1.Len())
	assert.Equal(t, 1, l2.Len())

	f.post(t, "2", ledger.Deposit, "10", "")
	assert.Zero(t, l1.Len())
	assert.Zero(t, l2.Len())

	page, err := f.service.ListTransactions(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestCache_AsyncFill(t *testing.T) {
	l1 := newL1(t)
	filler := writer.NewAsyncWriter(l1, writer.AsyncWriterConfig{Workers: 1})

	f := newFixture(t, l1)
	f.service.filler = filler
	ctx := context.Background()

	_, err := f.service.ListAccounts(ctx)
	require.NoError(t, err)
	require.NoError(t, filler.Close())

	assert.Equal(t, 1, l1.Len())
	_, err = l1.Get(ctx, cache.AccountsKey())
	assert.NoError(t, err)
}

func TestCache_AsyncFillSkipsInvalidated(t *testing.T) {
	l1 := newL1(t)
	release := make(chan struct{})
	gate := mock.NewMockLayer("gate")
	gate.SetFunc = func(ctx context.Context, key string, value []byte, ttl time.Duration) error {
		<-release
		return l1.Set(ctx, key, value, ttl)
	}
	gate.DeleteFunc = l1.Delete
	filler := writer.NewAsyncWriter(gate, writer.AsyncWriterConfig{Workers: 1})

	f := newFixture(t, l1)
	f.service.filler = filler
	ctx := context.Background()

	_, err := f.service.GetAccount(ctx, "1")
	require.NoError(t, err)

	// A posting commits while the fill is still in flight.
	f.post(t, "1", ledger.Deposit, "10", "")
	close(release)
	require.NoError(t, filler.Close())

	_, err = l1.Get(ctx, cache.AccountKey("1"))
	assert.True(t, cache.IsNotFound(err), "an invalidated fill must not survive")
}
