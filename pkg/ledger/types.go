package ledger

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType determines the balance-update polarity of a posting.
type TransactionType string

const (
	// Deposit credits the source account.
	Deposit TransactionType = "DEPOSIT"
	// Withdrawal debits the source account.
	Withdrawal TransactionType = "WITHDRAWAL"
	// Transfer debits the source account and credits the target account.
	Transfer TransactionType = "TRANSFER"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case Deposit, Withdrawal, Transfer:
		return true
	default:
		return false
	}
}

// AccountType classifies an account.
type AccountType string

const (
	Checking AccountType = "CHECKING"
	Savings  AccountType = "SAVINGS"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == Checking || t == Savings
}

// Account is the current state of a bank account.
// Balance is only ever changed by a committed posting.
type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	AccountType   AccountType     `json:"accountType"`
	Balance       decimal.Decimal `json:"balance"`
	AccountHolder string          `json:"accountHolder"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// MaskedNumber returns the account number with everything but the last four
// digits hidden, e.g. "****1001".
func (a Account) MaskedNumber() string {
	return MaskAccountNumber(a.AccountNumber)
}

// MaskAccountNumber hides all but the last four characters of number.
func MaskAccountNumber(number string) string {
	if number == "" {
		return ""
	}
	if len(number) <= 4 {
		return "****" + number
	}
	return "****" + number[len(number)-4:]
}

// Transaction is an immutable record in the transaction log.
type Transaction struct {
	ID          int64           `json:"id"`
	AccountID   string          `json:"accountId"`
	ToAccountID string          `json:"toAccountId,omitempty"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Touches reports whether the transaction has accountID as source or destination.
func (t Transaction) Touches(accountID string) bool {
	return t.AccountID == accountID || (t.ToAccountID != "" && t.ToAccountID == accountID)
}

// TransactionView is a transaction annotated with the source account's
// display fields, used by the global listing.
type TransactionView struct {
	Transaction
	AccountHolder string `json:"accountHolder"`
	AccountNumber string `json:"accountNumber"`
}

// Request is a proposed posting against a source account.
// Amount is nil when the caller did not supply one.
type Request struct {
	Type        TransactionType  `json:"type"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
	ToAccountID string           `json:"toAccountId,omitempty"`
}

// UnmarshalJSON decodes a posting request. Only a JSON number is an amount;
// a string, boolean or any other value decodes as a missing amount so that
// validation rejects it with the amount message rather than as bad JSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type        TransactionType `json:"type"`
		Amount      json.RawMessage `json:"amount"`
		Description string          `json:"description"`
		ToAccountID string          `json:"toAccountId"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = Request{
		Type:        wire.Type,
		Amount:      numericAmount(wire.Amount),
		Description: wire.Description,
		ToAccountID: wire.ToAccountID,
	}
	return nil
}

func numericAmount(raw json.RawMessage) *decimal.Decimal {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return nil
	}
	return &d
}

// Receipt is returned after a successful posting. Balance is the new balance
// of the source account regardless of the transaction direction.
type Receipt struct {
	ID          int64           `json:"id"`
	AccountID   string          `json:"accountId"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ToAccountID string          `json:"toAccountId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Balance     decimal.Decimal `json:"balance"`
}

func newReceipt(t Transaction, balance decimal.Decimal) Receipt {
	return Receipt{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description,
		ToAccountID: t.ToAccountID,
		CreatedAt:   t.CreatedAt,
		Balance:     balance,
	}
}
