// Package memory is an in-process ledger store. It provides the same
// unit-of-work guarantees as the PostgreSQL store and backs tests and local
// runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"ledger-service/pkg/ledger"

	"github.com/shopspring/decimal"
)

// Store keeps accounts and the transaction log in memory.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]ledger.Account
	log      []ledger.Transaction

	seq atomic.Int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]ledger.Account),
		locks:    make(map[string]chan struct{}),
	}
}

// CreateAccount opens an account. It fails if the id or account number is
// already taken.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	if a.ID == "" {
		return fmt.Errorf("memory: account id is required")
	}
	if !a.AccountType.Valid() {
		return fmt.Errorf("memory: invalid account type %q", a.AccountType)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("memory: negative opening balance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("memory: account %s already exists", a.ID)
	}
	for _, existing := range s.accounts {
		if existing.AccountNumber == a.AccountNumber {
			return fmt.Errorf("memory: account number %s already exists", a.AccountNumber)
		}
	}

	s.accounts[a.ID] = a
	return nil
}

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (ledger.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &unit{
		ctx:      ctx,
		store:    s,
		balances: make(map[string]decimal.Decimal),
	}, nil
}

func (s *Store) lockFor(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

// GetAccount returns a copy of the account, or ledger.ErrAccountMissing.
func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, ledger.ErrAccountMissing
	}
	return a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	out := make([]ledger.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAccountTransactions returns one page of the transactions that have
// accountID as source or destination, newest first, plus the total count.
func (s *Store) ListAccountTransactions(ctx context.Context, accountID string, offset, limit int) ([]ledger.Transaction, int, error) {
	s.mu.RLock()
	var matched []ledger.Transaction
	for _, t := range s.log {
		if t.Touches(accountID) {
			matched = append(matched, t)
		}
	}
	s.mu.RUnlock()

	sortNewestFirst(matched)
	return window(matched, offset, limit), len(matched), nil
}

// ListTransactions returns one page of the whole log, newest first, with
// each row annotated with its source account's holder and masked number.
func (s *Store) ListTransactions(ctx context.Context, offset, limit int) ([]ledger.TransactionView, int, error) {
	s.mu.RLock()
	all := make([]ledger.Transaction, len(s.log))
	copy(all, s.log)
	s.mu.RUnlock()

	sortNewestFirst(all)
	page := window(all, offset, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]ledger.TransactionView, len(page))
	for i, t := range page {
		views[i] = ledger.TransactionView{Transaction: t}
		if a, ok := s.accounts[t.AccountID]; ok {
			views[i].AccountHolder = a.AccountHolder
			views[i].AccountNumber = a.MaskedNumber()
		}
	}
	return views, len(all), nil
}

// Transactions returns a copy of the whole log in commit order.
func (s *Store) Transactions() []ledger.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Transaction, len(s.log))
	copy(out, s.log)
	return out
}

func sortNewestFirst(txs []ledger.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID > txs[j].ID
	})
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 || limit <= 0 || offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) || end < offset {
		end = len(items)
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}

// unit stages writes until Commit. Locks it holds are released when the unit
// ends either way. A unit whose Begin context is done by Commit time rolls
// back, as a database transaction bound to that context would.
type unit struct {
	ctx      context.Context
	store    *Store
	held     []chan struct{}
	balances map[string]decimal.Decimal
	pending  []ledger.Transaction
	done     bool
}

func (u *unit) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	if u.done {
		return ledger.Account{}, errUnitDone
	}

	if _, err := u.store.GetAccount(ctx, id); err != nil {
		return ledger.Account{}, err
	}

	ch := u.store.lockFor(id)
	select {
	case ch <- struct{}{}:
		u.held = append(u.held, ch)
	case <-ctx.Done():
		return ledger.Account{}, ctx.Err()
	}

	// Re-read under the lock so the balance reflects every earlier commit.
	return u.store.GetAccount(ctx, id)
}

func (u *unit) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if u.done {
		return errUnitDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u.balances[id] = balance
	return nil
}

func (u *unit) InsertTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	if u.done {
		return ledger.Transaction{}, errUnitDone
	}
	if err := ctx.Err(); err != nil {
		return ledger.Transaction{}, err
	}
	t.ID = u.store.seq.Add(1)
	u.pending = append(u.pending, t)
	return t, nil
}

func (u *unit) Commit() error {
	if u.done {
		return errUnitDone
	}
	if err := u.ctx.Err(); err != nil {
		u.release()
		return fmt.Errorf("memory: commit: %w", err)
	}

	s := u.store
	s.mu.Lock()
	for id := range u.balances {
		if _, ok := s.accounts[id]; !ok {
			s.mu.Unlock()
			u.release()
			return fmt.Errorf("memory: commit: %w", ledger.ErrAccountMissing)
		}
	}
	for id, balance := range u.balances {
		a := s.accounts[id]
		a.Balance = balance
		s.accounts[id] = a
	}
	s.log = append(s.log, u.pending...)
	s.mu.Unlock()

	u.release()
	return nil
}

func (u *unit) Rollback() error {
	if u.done {
		return nil
	}
	u.release()
	return nil
}

func (u *unit) release() {
	u.done = true
	for _, ch := range u.held {
		<-ch
	}
	u.held = nil
}

var errUnitDone = errors.New("memory: unit of work already finished")
