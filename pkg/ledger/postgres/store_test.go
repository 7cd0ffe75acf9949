package postgres

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"time"

	"ledger-service/pkg/ledger"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accountRowColumns     = []string{"id", "account_number", "account_type", "balance", "account_holder", "created_at"}
	transactionRowColumns = []string{"id", "account_id", "to_account_id", "type", "amount", "description", "created_at"}
	created               = time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

func TestStore_PostingUnit(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockAccountQuery)).WithArgs("1").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow("1", "1001", "CHECKING", "500.00", "John Doe", created))
	mock.ExpectExec(q(updateBalanceQuery)).WithArgs("400", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q(insertTransactionQuery)).
		WithArgs("1", nil, "WITHDRAWAL", "100", "ATM Withdrawal", created).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), created))
	mock.ExpectCommit()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	account, err := uow.LockAccount(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Checking, account.AccountType)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("500")))

	require.NoError(t, uow.UpdateBalance(ctx, "1", decimal.NewFromInt(400)))

	persisted, err := uow.InsertTransaction(ctx, ledger.Transaction{
		AccountID:   "1",
		Type:        ledger.Withdrawal,
		Amount:      decimal.NewFromInt(100),
		Description: "ATM Withdrawal",
		CreatedAt:   created,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), persisted.ID)
	assert.Equal(t, created, persisted.CreatedAt)

	require.NoError(t, uow.Commit())
	require.NoError(t, uow.Rollback(), "rollback after commit should be a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TransferInsertCarriesTarget(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q(insertTransactionQuery)).
		WithArgs("1", "2", "TRANSFER", "25.5", "rent", created).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(8), created))
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = uow.InsertTransaction(ctx, ledger.Transaction{
		AccountID:   "1",
		ToAccountID: "2",
		Type:        ledger.Transfer,
		Amount:      decimal.RequireFromString("25.5"),
		Description: "rent",
		CreatedAt:   created,
	})
	require.NoError(t, err)
	require.NoError(t, uow.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LockMissingAccount(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockAccountQuery)).WithArgs("999").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = uow.LockAccount(ctx, "999")
	assert.ErrorIs(t, err, ledger.ErrAccountMissing)
	require.NoError(t, uow.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateBalanceNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(q(updateBalanceQuery)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)

	err = uow.UpdateBalance(ctx, "1", decimal.Zero)
	assert.ErrorIs(t, err, ledger.ErrAccountMissing)
	require.NoError(t, uow.Rollback())
}

func TestStore_StorageErrorsAreWrapped(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("connection reset by peer")

	mock.ExpectBegin().WillReturnError(boom)
	_, err := store.Begin(ctx)
	assert.ErrorIs(t, err, boom)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockAccountQuery)).WillReturnError(boom)
	mock.ExpectRollback()

	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.LockAccount(ctx, "1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ledger.ErrAccountMissing)
	require.NoError(t, uow.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetAccount(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(q(getAccountQuery)).WithArgs("2").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow("2", "1002", "SAVINGS", "0", "Jane Smith", created))
	mock.ExpectQuery(q(getAccountQuery)).WithArgs("3").WillReturnError(sql.ErrNoRows)

	account, err := store.GetAccount(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", account.AccountHolder)
	assert.Equal(t, ledger.Savings, account.AccountType)

	_, err = store.GetAccount(ctx, "3")
	assert.ErrorIs(t, err, ledger.ErrAccountMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListAccounts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(listAccountsQuery)).WillReturnRows(sqlmock.NewRows(accountRowColumns).
		AddRow("1", "1001", "CHECKING", "1500", "John Doe", created).
		AddRow("2", "1002", "SAVINGS", "4000", "Jane Smith", created))

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "1", accounts[0].ID)
	assert.Equal(t, "2", accounts[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListAccountsEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(q(listAccountsQuery)).WillReturnRows(sqlmock.NewRows(accountRowColumns))

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, accounts)
	assert.Empty(t, accounts)
}

func TestStore_ListAccountTransactions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(countAccountTransactionsQuery)).WithArgs("2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(q(listAccountTransactionsQuery)).WithArgs("2", 5, 10).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).
			AddRow(int64(4), "1", "2", "TRANSFER", "300", "Transfer to savings", created).
			AddRow(int64(3), "2", nil, "DEPOSIT", "50", "Interest", created.Add(-time.Hour)))

	items, total, err := store.ListAccountTransactions(context.Background(), "2", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, items, 2)
	assert.Equal(t, "2", items[0].ToAccountID)
	assert.Equal(t, ledger.Transfer, items[0].Type)
	assert.Empty(t, items[1].ToAccountID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListTransactionsMasksNumbers(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(q(countTransactionsQuery)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(q(listTransactionsQuery)).WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(append(transactionRowColumns, "account_holder", "account_number")).
			AddRow(int64(2), "1", nil, "WITHDRAWAL", "200", "ATM", created, "John Doe", "1001").
			AddRow(int64(1), "9", nil, "DEPOSIT", "10", "orphan", created, "", ""))

	views, total, err := store.ListTransactions(context.Background(), 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, views, 2)
	assert.Equal(t, "****1001", views[0].AccountNumber)
	assert.Equal(t, "John Doe", views[0].AccountHolder)
	assert.Empty(t, views[1].AccountNumber)
	assert.Empty(t, views[1].AccountHolder)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateAccount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(q(insertAccountQuery)).
		WithArgs("1", "1001", "CHECKING", "0", "John Doe", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateAccount(context.Background(), ledger.Account{
		ID:            "1",
		AccountNumber: "1001",
		AccountType:   ledger.Checking,
		Balance:       decimal.Zero,
		AccountHolder: "John Doe",
		CreatedAt:     created,
	})
	require.NoError(t, err)

	err = store.CreateAccount(context.Background(), ledger.Account{ID: "2", AccountType: "BROKERAGE"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	require.NoError(t, err)

	var up, down int
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	assert.Equal(t, up, down, "every up migration needs a down migration")
	assert.NotZero(t, up)

	body, err := fs.ReadFile(migrationFiles, "migrations/0001_create_ledger.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "CHECK (balance >= 0)")
}
