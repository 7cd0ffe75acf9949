// Package query serves read-only views of accounts and the transaction log.
// Results may be cached; every committed posting invalidates what it touched.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"ledger-service/pkg/cache"
	"ledger-service/pkg/ledger"
	"ledger-service/pkg/logging"
	"ledger-service/pkg/metrics"
	"ledger-service/pkg/writer"

	"go.uber.org/zap"
)

const (
	DefaultAccountLimit = 10
	DefaultGlobalLimit  = 20
	MaxLimit            = 100

	// MaxPage keeps (page-1)*limit inside an int for any accepted limit.
	MaxPage = math.MaxInt / MaxLimit

	fetchFailedMessage         = "Failed to fetch transactions"
	fetchAccountsFailedMessage = "Failed to fetch accounts"
)

// Query kinds used as metric labels.
const (
	KindAccount             = "account"
	KindAccounts            = "accounts"
	KindAccountTransactions = "account_transactions"
	KindTransactions        = "transactions"
)

// Reader is the read side of the ledger store.
type Reader interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	ListAccountTransactions(ctx context.Context, accountID string, offset, limit int) ([]ledger.Transaction, int, error)
	ListTransactions(ctx context.Context, offset, limit int) ([]ledger.TransactionView, int, error)
}

// Cache is the subset of a cache chain the service needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Filler performs cache fills asynchronously.
type Filler interface {
	Write(ctx context.Context, op writer.Op) error
}

// Page is one page of a transaction listing.
type Page[T any] struct {
	Transactions []T `json:"transactions"`
	Total        int `json:"total"`
	Page         int `json:"page"`
	Limit        int `json:"limit"`
	TotalPages   int `json:"totalPages"`
}

// Config holds the optional collaborators of a Service.
type Config struct {
	// Cache enables read caching when set.
	Cache Cache
	// Filler moves cache fills off the request path when set. It must
	// write into Cache.
	Filler Filler
	// TTL of cached entries. Defaults to 5s.
	TTL     time.Duration
	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// Service answers read queries from a Reader, optionally through a cache.
type Service struct {
	reader  Reader
	cache   Cache
	filler  Filler
	ttl     time.Duration
	metrics metrics.MetricsCollector
	logger  *logging.Logger

	// generation is bumped by every invalidation. A loader only fills the
	// cache if no invalidation ran while it was reading the store.
	generation atomic.Uint64
}

// NewService creates a query service over reader.
func NewService(reader Reader, config Config) *Service {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Second
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	return &Service{
		reader:  reader,
		cache:   config.Cache,
		filler:  config.Filler,
		ttl:     config.TTL,
		metrics: config.Metrics,
		logger:  config.Logger.Named("query"),
	}
}

// ClampPage normalizes page and limit: page is clamped to [1, MaxPage], limit
// < 1 becomes def and limit > MaxLimit becomes MaxLimit.
func ClampPage(page, limit, def int) (int, int) {
	switch {
	case page < 1:
		page = 1
	case page > MaxPage:
		page = MaxPage
	}
	switch {
	case limit < 1:
		limit = def
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return page, limit
}

// TotalPages returns ceil(total/limit).
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// GetAccount returns one account or ledger.ErrAccountNotFound.
func (s *Service) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var account ledger.Account
	err := s.cached(ctx, KindAccount, cache.AccountKey(id), &account, func(ctx context.Context) (any, error) {
		a, err := s.reader.GetAccount(ctx, id)
		if errors.Is(err, ledger.ErrAccountMissing) {
			return nil, ledger.ErrAccountNotFound
		}
		if err != nil {
			return nil, s.storageError(ctx, fetchAccountsFailedMessage, err)
		}
		return a, nil
	})
	return account, err
}

// ListAccounts returns every account ordered by id.
func (s *Service) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := s.cached(ctx, KindAccounts, cache.AccountsKey(), &accounts, func(ctx context.Context) (any, error) {
		list, err := s.reader.ListAccounts(ctx)
		if err != nil {
			return nil, s.storageError(ctx, fetchAccountsFailedMessage, err)
		}
		return list, nil
	})
	return accounts, err
}

// ListAccountTransactions returns one page of the transactions that have
// accountID as source or destination, newest first.
func (s *Service) ListAccountTransactions(ctx context.Context, accountID string, page, limit int) (Page[ledger.Transaction], error) {
	page, limit = ClampPage(page, limit, DefaultAccountLimit)

	var result Page[ledger.Transaction]
	key := cache.AccountPageKey(accountID, page, limit)
	err := s.cached(ctx, KindAccountTransactions, key, &result, func(ctx context.Context) (any, error) {
		if _, err := s.reader.GetAccount(ctx, accountID); err != nil {
			if errors.Is(err, ledger.ErrAccountMissing) {
				return nil, ledger.ErrAccountNotFound
			}
			return nil, s.storageError(ctx, fetchFailedMessage, err)
		}

		items, total, err := s.reader.ListAccountTransactions(ctx, accountID, (page-1)*limit, limit)
		if err != nil {
			return nil, s.storageError(ctx, fetchFailedMessage, err)
		}
		return newPage(items, total, page, limit), nil
	})
	return result, err
}

// ListTransactions returns one page of the whole log, newest first, with each
// item annotated with the source account's holder and masked number.
func (s *Service) ListTransactions(ctx context.Context, page, limit int) (Page[ledger.TransactionView], error) {
	page, limit = ClampPage(page, limit, DefaultGlobalLimit)

	var result Page[ledger.TransactionView]
	key := cache.GlobalPageKey(page, limit)
	err := s.cached(ctx, KindTransactions, key, &result, func(ctx context.Context) (any, error) {
		views, total, err := s.reader.ListTransactions(ctx, (page-1)*limit, limit)
		if err != nil {
			return nil, s.storageError(ctx, fetchFailedMessage, err)
		}
		return newPage(views, total, page, limit), nil
	})
	return result, err
}

// Invalidate drops every cached view a committed transaction can change. It
// has the signature of a ledger.CommitHook.
func (s *Service) Invalidate(ctx context.Context, t ledger.Transaction) {
	s.generation.Add(1)
	if s.cache == nil {
		return
	}

	logger := s.logger.WithContext(ctx)
	drop := func(err error, key string) {
		if err != nil {
			logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
		}
	}

	for _, id := range touched(t) {
		drop(s.cache.DeletePrefix(ctx, cache.AccountPagePrefix(id)), cache.AccountPagePrefix(id))
		drop(s.cache.Delete(ctx, cache.AccountKey(id)), cache.AccountKey(id))
	}
	drop(s.cache.DeletePrefix(ctx, cache.GlobalPagePrefix()), cache.GlobalPagePrefix())
	drop(s.cache.Delete(ctx, cache.AccountsKey()), cache.AccountsKey())
}

func touched(t ledger.Transaction) []string {
	if t.ToAccountID != "" && t.ToAccountID != t.AccountID {
		return []string{t.AccountID, t.ToAccountID}
	}
	return []string{t.AccountID}
}

// cached decodes key into dst on a cache hit, otherwise runs load, stores the
// result and copies it into dst. Cache failures fall through to load.
func (s *Service) cached(ctx context.Context, kind, key string, dst any, load func(ctx context.Context) (any, error)) error {
	start := time.Now()

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		if err == nil {
			if err := json.Unmarshal(raw, dst); err == nil {
				s.metrics.RecordQuery(kind, true, time.Since(start))
				return nil
			}
			s.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
		} else if !cache.IsNotFound(err) {
			s.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	generation := s.generation.Load()
	value, err := load(ctx)
	s.metrics.RecordQuery(kind, false, time.Since(start))
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return ledger.StorageError(fetchFailedMessage, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ledger.StorageError(fetchFailedMessage, err)
	}

	s.fill(ctx, key, raw, generation)
	return nil
}

// fill stores raw unless an invalidation has run since generation was read.
// An invalidation racing with the Set itself is caught by the second check.
func (s *Service) fill(ctx context.Context, key string, raw []byte, generation uint64) {
	if s.cache == nil || s.generation.Load() != generation {
		return
	}
	if s.filler != nil {
		err := s.filler.Write(ctx, writer.Op{
			Key:   key,
			Value: raw,
			TTL:   s.ttl,
			Stale: func() bool { return s.generation.Load() != generation },
		})
		if err != nil {
			s.logger.Debug("cache fill not queued", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Debug("cache fill failed", zap.String("key", key), zap.Error(err))
		return
	}
	if s.generation.Load() != generation {
		_ = s.cache.Delete(ctx, key)
	}
}

func (s *Service) storageError(ctx context.Context, message string, err error) error {
	s.logger.WithContext(ctx).Error(message, zap.Error(err))
	return ledger.StorageError(message, err)
}

func newPage[T any](items []T, total, page, limit int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Transactions: items,
		Total:        total,
		Page:         page,
		Limit:        limit,
		TotalPages:   TotalPages(total, limit),
	}
}
