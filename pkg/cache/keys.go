package cache

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest key a layer accepts.
const MaxKeyLength = 250

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - Maximum length of 250 bytes
// - No control characters
// - No leading or trailing whitespace
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	if strings.TrimSpace(key) != key {
		return fmt.Errorf("%w: key has leading or trailing whitespace", ErrInvalidKey)
	}

	return nil
}

// Key namespaces for ledger read models.
const (
	accountsKey       = "accounts"
	accountPrefix     = "account:"
	accountPagePrefix = "txpage:acct:"
	globalPagePrefix  = "txpage:all:"
)

// AccountsKey is the key of the full account list.
func AccountsKey() string {
	return accountsKey
}

// AccountKey is the key of a single account.
func AccountKey(accountID string) string {
	return accountPrefix + accountID
}

// AccountPagePrefix is shared by every cached transaction page of accountID.
func AccountPagePrefix(accountID string) string {
	return accountPagePrefix + accountID + ":"
}

// AccountPageKey is the key of one page of accountID's transactions.
func AccountPageKey(accountID string, page, limit int) string {
	return fmt.Sprintf("%s%d:%d", AccountPagePrefix(accountID), page, limit)
}

// GlobalPagePrefix is shared by every cached page of the global feed.
func GlobalPagePrefix() string {
	return globalPagePrefix
}

// GlobalPageKey is the key of one page of the global feed.
func GlobalPageKey(page, limit int) string {
	return fmt.Sprintf("%s%d:%d", globalPagePrefix, page, limit)
}
