// Package cache defines the read-cache layers that sit in front of the
// ledger's query side, and the key scheme shared by all of them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/pkg/metrics"
)

var (
	// ErrKeyNotFound is a plain miss. It never counts as a layer failure.
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrInvalidKey rejects keys a layer cannot store, see ValidateKey.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrLayerUnavailable means the backend behind a layer cannot be reached.
	ErrLayerUnavailable = errors.New("cache: layer unavailable")
)

// CacheLayer stores encoded query results. Values are opaque bytes and the
// caller owns the encoding.
type CacheLayer interface {
	// Get returns ErrKeyNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl selects the layer default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error

	// DeletePrefix drops every key that starts with prefix. Posting
	// invalidation relies on it to drop all pages of an account at once.
	DeletePrefix(ctx context.Context, prefix string) error

	// Name labels the layer in logs and metrics, e.g. "L1-memory".
	Name() string

	Close() error
}

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsUnavailable reports whether err means the layer could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLayerUnavailable)
}

// GetOutcome maps the result of a Get to a metrics outcome label.
func GetOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeHit
	case IsNotFound(err):
		return metrics.OutcomeMiss
	default:
		return metrics.OutcomeError
	}
}

// LayerError annotates err with the layer and operation that produced it.
func LayerError(layer, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache layer %s %s: %w", layer, op, err)
}
