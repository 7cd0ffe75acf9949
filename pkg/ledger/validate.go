package ledger

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	// MaxDescriptionLength is the longest accepted description, in characters.
	MaxDescriptionLength = 200
)

// MaxAmount is the largest amount a single posting may carry.
var MaxAmount = decimal.NewFromInt(1_000_000)

// Validate checks req in a fixed order and returns the first failure.
// It never touches storage.
func Validate(req Request) error {
	for _, check := range checks {
		if err := check(req); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll returns every failing check, in the same order Validate uses.
// The first element, if any, is the error Validate would return.
func ValidateAll(req Request) []*Error {
	var errs []*Error
	for _, check := range checks {
		if err := check(req); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

var checks = []func(Request) *Error{
	checkType,
	checkAmount,
	checkDescription,
	checkTarget,
}

func checkType(req Request) *Error {
	if !req.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func checkAmount(req Request) *Error {
	if req.Amount == nil || !req.Amount.IsPositive() {
		return ErrAmountNotPositive
	}
	// A positive amount with an exponent of 7 or more is at least 10^7.
	// Deciding that from the exponent avoids rescaling inputs like 1e999999999.
	if req.Amount.Exponent() >= 7 || req.Amount.GreaterThan(MaxAmount) {
		return ErrAmountTooLarge
	}
	return nil
}

func checkDescription(req Request) *Error {
	if strings.TrimSpace(req.Description) == "" {
		return ErrDescriptionMissing
	}
	if utf8.RuneCountInString(req.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}

func checkTarget(req Request) *Error {
	if req.Type == Transfer && strings.TrimSpace(req.ToAccountID) == "" {
		return ErrMissingTarget
	}
	return nil
}
