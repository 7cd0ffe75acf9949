// Package postgres stores accounts and the transaction log in PostgreSQL.
// Each unit of work is one READ COMMITTED transaction; account rows are
// locked with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-service/pkg/ledger"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
)

const (
	accountColumns = `id, account_number, account_type, balance, account_holder, created_at`

	lockAccountQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	getAccountQuery = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	listAccountsQuery = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

	updateBalanceQuery = `UPDATE accounts SET balance = $1 WHERE id = $2`

	insertAccountQuery = `INSERT INTO accounts (` + accountColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`

	insertTransactionQuery = `INSERT INTO transactions (account_id, to_account_id, type, amount, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`

	countAccountTransactionsQuery = `SELECT COUNT(*) FROM transactions WHERE account_id = $1 OR to_account_id = $1`

	listAccountTransactionsQuery = `SELECT id, account_id, to_account_id, type, amount, description, created_at
FROM transactions
WHERE account_id = $1 OR to_account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`

	countTransactionsQuery = `SELECT COUNT(*) FROM transactions`

	listTransactionsQuery = `SELECT t.id, t.account_id, t.to_account_id, t.type, t.amount, t.description, t.created_at,
       COALESCE(a.account_holder, ''), COALESCE(a.account_number, '')
FROM transactions t
LEFT JOIN accounts a ON t.account_id = a.id
ORDER BY t.created_at DESC, t.id DESC
LIMIT $1 OFFSET $2`
)

// Config holds connection pool settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return db, nil
}

// Store implements ledger.Store, ledger.AccountCreator and the query reader.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Begin starts a READ COMMITTED transaction.
func (s *Store) Begin(ctx context.Context) (ledger.UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &unit{tx: tx}, nil
}

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) error {
	if !a.AccountType.Valid() {
		return fmt.Errorf("postgres: invalid account type %q", a.AccountType)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	_, err := s.db.ExecContext(ctx, insertAccountQuery,
		a.ID, a.AccountNumber, string(a.AccountType), a.Balance, a.AccountHolder, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount returns one account, or ledger.ErrAccountMissing.
func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, getAccountQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountMissing
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return a, nil
}

// ListAccounts returns every account ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, listAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	return accounts, nil
}

// ListAccountTransactions returns one page of accountID's transactions,
// newest first, and the total number of matching rows.
func (s *Store) ListAccountTransactions(ctx context.Context, accountID string, offset, limit int) ([]ledger.Transaction, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, countAccountTransactionsQuery, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listAccountTransactionsQuery, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	items := []ledger.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list transactions: %w", err)
	}
	return items, total, nil
}

// ListTransactions returns one page of the whole log, newest first, joined
// with the source account's holder and masked number.
func (s *Store) ListTransactions(ctx context.Context, offset, limit int) ([]ledger.TransactionView, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, countTransactionsQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, listTransactionsQuery, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	views := []ledger.TransactionView{}
	for rows.Next() {
		var (
			v      ledger.TransactionView
			to     sql.NullString
			txType string
			number string
		)
		if err := rows.Scan(&v.ID, &v.AccountID, &to, &txType, &v.Amount, &v.Description, &v.CreatedAt,
			&v.AccountHolder, &number); err != nil {
			return nil, 0, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		v.ToAccountID = to.String
		v.Type = ledger.TransactionType(txType)
		v.CreatedAt = v.CreatedAt.UTC()
		v.AccountNumber = ledger.MaskAccountNumber(number)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: list transactions: %w", err)
	}
	return views, total, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a           ledger.Account
		accountType string
	)
	if err := row.Scan(&a.ID, &a.AccountNumber, &accountType, &a.Balance, &a.AccountHolder, &a.CreatedAt); err != nil {
		return ledger.Account{}, err
	}
	a.AccountType = ledger.AccountType(accountType)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t      ledger.Transaction
		to     sql.NullString
		txType string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &to, &txType, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}
	t.ToAccountID = to.String
	t.Type = ledger.TransactionType(txType)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

type unit struct {
	tx *sql.Tx
}

func (u *unit) LockAccount(ctx context.Context, id string) (ledger.Account, error) {
	a, err := scanAccount(u.tx.QueryRowContext(ctx, lockAccountQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrAccountMissing
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("postgres: lock account %s: %w", id, err)
	}
	return a, nil
}

func (u *unit) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	res, err := u.tx.ExecContext(ctx, updateBalanceQuery, balance, id)
	if err != nil {
		return fmt.Errorf("postgres: update balance %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update balance %s: %w", id, err)
	}
	if n != 1 {
		return fmt.Errorf("postgres: update balance %s: %w", id, ledger.ErrAccountMissing)
	}
	return nil
}

func (u *unit) InsertTransaction(ctx context.Context, t ledger.Transaction) (ledger.Transaction, error) {
	to := sql.NullString{String: t.ToAccountID, Valid: t.ToAccountID != ""}

	var createdAt time.Time
	err := u.tx.QueryRowContext(ctx, insertTransactionQuery,
		t.AccountID, to, string(t.Type), t.Amount, t.Description, t.CreatedAt,
	).Scan(&t.ID, &createdAt)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("postgres: insert transaction: %w", err)
	}
	t.CreatedAt = createdAt.UTC()
	return t, nil
}

func (u *unit) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (u *unit) Rollback() error {
	err := u.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("postgres: rollback: %w", err)
}
