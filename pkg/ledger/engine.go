package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-service/pkg/logging"
	"ledger-service/pkg/metrics"
	"ledger-service/pkg/resilience"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const postingFailedMessage = "Failed to create transaction"

// EngineConfig holds the optional collaborators of an Engine.
type EngineConfig struct {
	// Guard protects every unit of work with a circuit breaker and timeout.
	// Nil disables both.
	Guard *resilience.Guard

	// Metrics receives one RecordPosting call per PostTransaction.
	Metrics metrics.MetricsCollector

	// Logger defaults to the global logger.
	Logger *logging.Logger

	// Now is the commit clock. Defaults to time.Now.
	Now func() time.Time
}

// Engine validates transactions and posts them atomically against a Store.
// It is safe for concurrent use; per-account serialization is delegated to the
// store's row locks.
type Engine struct {
	store   Store
	guard   *resilience.Guard
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	now     func() time.Time

	mu    sync.RWMutex
	hooks []CommitHook
}

// NewEngine creates an engine posting into store.
func NewEngine(store Store, config EngineConfig) *Engine {
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Engine{
		store:   store,
		guard:   config.Guard,
		metrics: config.Metrics,
		logger:  config.Logger.Named("ledger"),
		now:     config.Now,
	}
}

// OnCommit registers a hook that runs after every committed posting.
func (e *Engine) OnCommit(hook CommitHook) {
	e.mu.Lock()
	e.hooks = append(e.hooks, hook)
	e.mu.Unlock()
}

// PostTransaction validates req and applies it to accountID as one unit of
// work. On any error neither balance nor the transaction log is changed.
func (e *Engine) PostTransaction(ctx context.Context, accountID string, req Request) (Receipt, error) {
	start := time.Now()
	receipt, err := e.postTransaction(ctx, accountID, req)
	e.metrics.RecordPosting(string(req.Type), ClassifyError(err), time.Since(start))
	return receipt, err
}

func (e *Engine) postTransaction(ctx context.Context, accountID string, req Request) (Receipt, error) {
	logger := e.logger.WithContext(ctx).With(
		zap.String("account_id", accountID),
		zap.String("type", string(req.Type)),
	)

	if err := Validate(req); err != nil {
		logger.Debug("posting rejected by validation", zap.Error(err))
		return Receipt{}, err
	}

	var (
		receipt   Receipt
		committed Transaction
	)
	err := e.run(ctx, func(ctx context.Context) error {
		var err error
		receipt, committed, err = e.post(ctx, accountID, req)
		return err
	})
	if err != nil {
		var le *Error
		if errors.As(err, &le) && le.Kind != KindStorage {
			logger.Info("posting rejected", zap.String("code", string(le.Code)))
			return Receipt{}, le
		}
		logger.Error("posting failed", zap.Error(err))
		return Receipt{}, StorageError(postingFailedMessage, err)
	}

	logger.Info("posting committed",
		zap.Int64("transaction_id", committed.ID),
		zap.String("amount", committed.Amount.String()),
		zap.String("balance", receipt.Balance.String()),
	)
	// Hooks run even if the caller has gone away; the posting is already durable.
	e.notify(context.WithoutCancel(ctx), committed)

	return receipt, nil
}

func (e *Engine) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.guard == nil {
		return fn(ctx)
	}
	return e.guard.Do(ctx, fn)
}

// post executes the posting algorithm inside a single unit of work. The
// deferred Rollback covers every early return; after Commit it does nothing.
func (e *Engine) post(ctx context.Context, accountID string, req Request) (Receipt, Transaction, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return Receipt{}, Transaction{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer func() {
		if rbErr := uow.Rollback(); rbErr != nil {
			e.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	ids := []string{accountID}
	if req.Type == Transfer {
		ids = append(ids, req.ToAccountID)
	}
	locked, err := lockAccounts(ctx, uow, ids)
	if err != nil {
		return Receipt{}, Transaction{}, err
	}

	source, ok := locked[accountID]
	if !ok {
		return Receipt{}, Transaction{}, ErrAccountNotFound
	}

	var target Account
	if req.Type == Transfer {
		if target, ok = locked[req.ToAccountID]; !ok {
			return Receipt{}, Transaction{}, ErrTargetNotFound
		}
		if req.ToAccountID == accountID {
			return Receipt{}, Transaction{}, ErrSelfTransfer
		}
	}

	amount := *req.Amount
	sourceBalance := source.Balance.Add(amount)
	if req.Type != Deposit {
		sourceBalance = source.Balance.Sub(amount)
		if sourceBalance.IsNegative() {
			return Receipt{}, Transaction{}, ErrInsufficientFunds
		}
	}

	if err := uow.UpdateBalance(ctx, source.ID, sourceBalance); err != nil {
		return Receipt{}, Transaction{}, fmt.Errorf("update source balance: %w", err)
	}
	if req.Type == Transfer {
		if err := uow.UpdateBalance(ctx, target.ID, target.Balance.Add(amount)); err != nil {
			return Receipt{}, Transaction{}, fmt.Errorf("update target balance: %w", err)
		}
	}

	record := Transaction{
		AccountID:   source.ID,
		Type:        req.Type,
		Amount:      amount,
		Description: req.Description,
		// Postgres keeps microseconds; truncating here keeps the receipt and
		// the stored row identical.
		CreatedAt: e.now().UTC().Truncate(time.Microsecond),
	}
	if req.Type == Transfer {
		record.ToAccountID = target.ID
	}

	persisted, err := uow.InsertTransaction(ctx, record)
	if err != nil {
		return Receipt{}, Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return Receipt{}, Transaction{}, fmt.Errorf("commit: %w", err)
	}

	return newReceipt(persisted, sourceBalance), persisted, nil
}

// lockAccounts locks the distinct ids in ascending order and returns the rows
// that exist. Missing rows are simply absent from the result.
func lockAccounts(ctx context.Context, uow UnitOfWork, ids []string) (map[string]Account, error) {
	ordered := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	locked := make(map[string]Account, len(ordered))
	for _, id := range ordered {
		account, err := uow.LockAccount(ctx, id)
		if errors.Is(err, ErrAccountMissing) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = account
	}
	return locked, nil
}

func (e *Engine) notify(ctx context.Context, t Transaction) {
	e.mu.RLock()
	hooks := make([]CommitHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, t)
	}
}

// NetEffect returns the signed sum of the balance effects txs have on
// accountID. For a consistent ledger it equals the account balance when txs is
// the full log.
func NetEffect(accountID string, txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txs {
		if t.AccountID == accountID {
			if t.Type == Deposit {
				total = total.Add(t.Amount)
			} else {
				total = total.Sub(t.Amount)
			}
		}
		if t.Type == Transfer && t.ToAccountID == accountID {
			total = total.Add(t.Amount)
		}
	}
	return total
}
