package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, StatsD, etc.).
type MetricsCollector interface {
	// Postings. outcome is "ok", an error code, or "storage".
	RecordPosting(txType, outcome string, duration time.Duration)

	// Read side. kind names the query, e.g. "account_transactions".
	RecordQuery(kind string, cacheHit bool, duration time.Duration)

	// Cache layers. op is get, set, delete or invalidate.
	RecordCacheOp(layer, op, outcome string, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(name string, state CircuitState)

	// HTTP surface
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the service has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Cache operation outcomes.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordPosting does nothing.
func (NoOpCollector) RecordPosting(txType, outcome string, duration time.Duration) {}

// RecordQuery does nothing.
func (NoOpCollector) RecordQuery(kind string, cacheHit bool, duration time.Duration) {}

// RecordCacheOp does nothing.
func (NoOpCollector) RecordCacheOp(layer, op, outcome string, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordHTTPRequest does nothing.
func (NoOpCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {}
