package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store opens isolated units of work over the account store and the
// transaction log.
type Store interface {
	// Begin starts a unit of work. The caller must finish it with Commit or
	// Rollback.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is one all-or-nothing storage transaction.
//
// LockAccount loads an account and holds an exclusive lock on it until the
// unit ends, so no concurrent unit can read the same pre-update balance.
// Callers that lock more than one account must lock them in ascending id
// order. Rollback after Commit is a no-op and returns nil.
type UnitOfWork interface {
	LockAccount(ctx context.Context, id string) (Account, error)
	UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error
	// InsertTransaction appends t and returns it as persisted, with the
	// assigned ID and the stored CreatedAt.
	InsertTransaction(ctx context.Context, t Transaction) (Transaction, error)
	Commit() error
	Rollback() error
}

// AccountCreator is the admin path used to open accounts. The posting engine
// never creates accounts.
type AccountCreator interface {
	CreateAccount(ctx context.Context, a Account) error
}

// CommitHook is notified after a posting has been committed.
type CommitHook func(ctx context.Context, t Transaction)
