// Package seed loads the demo accounts and their sample history into an
// empty ledger.
package seed

import (
	"context"
	"fmt"
	"time"

	"ledger-service/pkg/ledger"
	"ledger-service/pkg/logging"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is everything the seeder needs from a ledger store.
type Store interface {
	ledger.Store
	ledger.AccountCreator
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
}

// Posting is one scripted transaction with its historical commit time.
type Posting struct {
	At          time.Time
	AccountID   string
	Type        ledger.TransactionType
	Amount      string
	Description string
	ToAccountID string
}

// Accounts are opened with a zero balance; opening balances are posted as
// deposits so every balance is the net effect of the log.
var Accounts = []ledger.Account{
	{ID: "1", AccountNumber: "1001", AccountType: ledger.Checking, AccountHolder: "John Doe"},
	{ID: "2", AccountNumber: "1002", AccountType: ledger.Savings, AccountHolder: "Jane Smith"},
}

// History is posted in order.
var History = []Posting{
	{At: ts("2024-01-01T09:00:00Z"), AccountID: "1", Type: ledger.Deposit, Amount: "5000", Description: "Opening balance"},
	{At: ts("2024-01-01T09:00:01Z"), AccountID: "2", Type: ledger.Deposit, Amount: "10000", Description: "Opening balance"},
	{At: ts("2024-01-15T10:00:00Z"), AccountID: "1", Type: ledger.Deposit, Amount: "1000", Description: "Salary deposit"},
	{At: ts("2024-01-15T11:00:00Z"), AccountID: "2", Type: ledger.Deposit, Amount: "2000", Description: "Investment return"},
	{At: ts("2024-01-16T14:30:00Z"), AccountID: "1", Type: ledger.Withdrawal, Amount: "50", Description: "ATM withdrawal"},
	{At: ts("2024-01-16T16:45:00Z"), AccountID: "2", Type: ledger.Withdrawal, Amount: "100", Description: "Online purchase debit"},
	{At: ts("2024-01-17T09:15:00Z"), AccountID: "1", Type: ledger.Transfer, Amount: "200", Description: "Transfer to savings account", ToAccountID: "2"},
	{At: ts("2024-01-17T13:20:00Z"), AccountID: "2", Type: ledger.Deposit, Amount: "500", Description: "Refund"},
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// Run seeds store when it has no accounts. It reports whether anything was
// written.
func Run(ctx context.Context, store Store, logger *logging.Logger) (bool, error) {
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.Named("seed")

	existing, err := store.ListAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("seed: list accounts: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("sample data already exists, skipping", zap.Int("accounts", len(existing)))
		return false, nil
	}

	for _, a := range Accounts {
		a.Balance = decimal.Zero
		a.CreatedAt = History[0].At
		if err := store.CreateAccount(ctx, a); err != nil {
			return false, fmt.Errorf("seed: create account %s: %w", a.ID, err)
		}
		logger.Info("account created", zap.String("account_number", a.AccountNumber))
	}

	// The engine stamps each posting with the scripted time of the step
	// being replayed.
	var at time.Time
	engine := ledger.NewEngine(store, ledger.EngineConfig{
		Logger: logger,
		Now:    func() time.Time { return at },
	})

	for _, p := range History {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return false, fmt.Errorf("seed: amount %q: %w", p.Amount, err)
		}
		at = p.At
		if _, err := engine.PostTransaction(ctx, p.AccountID, ledger.Request{
			Type:        p.Type,
			Amount:      &amount,
			Description: p.Description,
			ToAccountID: p.ToAccountID,
		}); err != nil {
			return false, fmt.Errorf("seed: post %q: %w", p.Description, err)
		}
	}

	logger.Info("sample data inserted", zap.Int("transactions", len(History)))
	return true, nil
}
