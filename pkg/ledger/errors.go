package ledger

import (
	"errors"
	"fmt"
)

// Kind groups ledger errors by how a caller should react to them.
type Kind int

const (
	// KindStorage is a transient I/O or transaction failure.
	KindStorage Kind = iota
	// KindValidation is a user-correctable input problem.
	KindValidation
	// KindNotFound means the source or target account does not exist.
	KindNotFound
	// KindBusinessRule is a well-formed request the ledger refuses to apply.
	KindBusinessRule
)

// String returns the kind label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	default:
		return "storage"
	}
}

// Code identifies a specific outcome within a Kind.
type Code string

const (
	CodeInvalidType        Code = "InvalidType"
	CodeInvalidAmount      Code = "InvalidAmount"
	CodeInvalidDescription Code = "InvalidDescription"
	CodeMissingTarget      Code = "MissingTarget"
	CodeAccountNotFound    Code = "AccountNotFound"
	CodeTargetNotFound     Code = "TargetNotFound"
	CodeInsufficientFunds  Code = "InsufficientFunds"
	CodeSelfTransfer       Code = "SelfTransfer"
	CodeStorage            Code = "StorageError"
)

// Error is the typed outcome of a rejected ledger operation.
// Message is safe to show to the caller; Err is the internal cause and is
// only populated for storage errors.
type Error struct {
	Kind    Kind
	Code    Code
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Code. A target with a Message only
// matches errors carrying that exact message, which keeps the two amount
// failures distinguishable.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidType        = &Error{Kind: KindValidation, Code: CodeInvalidType, Field: "type", Message: "Invalid transaction type. Must be 'DEPOSIT', 'WITHDRAWAL', or 'TRANSFER'"}
	ErrAmountNotPositive  = &Error{Kind: KindValidation, Code: CodeInvalidAmount, Field: "amount", Message: "Amount must be a positive number"}
	ErrAmountTooLarge     = &Error{Kind: KindValidation, Code: CodeInvalidAmount, Field: "amount", Message: "Amount exceeds maximum limit of $1,000,000"}
	ErrDescriptionMissing = &Error{Kind: KindValidation, Code: CodeInvalidDescription, Field: "description", Message: "Description is required"}
	ErrDescriptionTooLong = &Error{Kind: KindValidation, Code: CodeInvalidDescription, Field: "description", Message: "Description must be less than 200 characters"}
	ErrMissingTarget      = &Error{Kind: KindValidation, Code: CodeMissingTarget, Field: "toAccountId", Message: "Target account ID is required for transfers"}

	// ErrInvalidAmount and ErrInvalidDescription match either message of their code.
	ErrInvalidAmount      = &Error{Kind: KindValidation, Code: CodeInvalidAmount}
	ErrInvalidDescription = &Error{Kind: KindValidation, Code: CodeInvalidDescription}

	ErrAccountNotFound = &Error{Kind: KindNotFound, Code: CodeAccountNotFound, Message: "Account not found"}
	ErrTargetNotFound  = &Error{Kind: KindNotFound, Code: CodeTargetNotFound, Field: "toAccountId", Message: "Target account not found"}

	ErrInsufficientFunds = &Error{Kind: KindBusinessRule, Code: CodeInsufficientFunds, Field: "amount", Message: "Insufficient funds"}
	ErrSelfTransfer      = &Error{Kind: KindBusinessRule, Code: CodeSelfTransfer, Field: "toAccountId", Message: "Cannot transfer to the same account"}
)

// ErrAccountMissing is returned by store implementations when a looked-up
// account row does not exist. The engine translates it into
// ErrAccountNotFound or ErrTargetNotFound depending on the role of the row.
var ErrAccountMissing = errors.New("ledger: account row missing")

// StorageError wraps an internal failure with a caller-safe message.
func StorageError(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Code: CodeStorage, Message: message, Err: cause}
}

// KindOf returns the Kind of err. Errors that are not ledger errors are
// treated as storage failures.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindStorage
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return err != nil && KindOf(err) == KindValidation
}

// IsNotFound reports whether err is an account or target not-found error.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsBusinessRule reports whether err is a business-rule rejection.
func IsBusinessRule(err error) bool {
	return err != nil && KindOf(err) == KindBusinessRule
}

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool {
	return err != nil && KindOf(err) == KindStorage
}

// IsDomainOutcome reports whether err is an expected rejection rather than an
// infrastructure failure. Circuit breakers use it to avoid tripping on
// insufficient funds or bad input.
func IsDomainOutcome(err error) bool {
	return err == nil || KindOf(err) != KindStorage
}

// ClassifyError returns a low-cardinality label for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "ok"
	}
	var le *Error
	if errors.As(err, &le) && le.Kind != KindStorage {
		return string(le.Code)
	}
	return "storage"
}
