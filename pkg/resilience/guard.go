package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/pkg/logging"
	"ledger-service/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("resilience: circuit breaker open")

	// ErrTimeout is returned when a guarded call fails after its deadline passed.
	ErrTimeout = errors.New("resilience: operation timeout")
)

// IsCircuitOpen reports whether err was caused by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether err was caused by the guard timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Guard combines a circuit breaker with a per-call timeout.
type Guard struct {
	name         string
	cb           *gobreaker.CircuitBreaker
	timeout      time.Duration
	isSuccessful func(error) bool
	metrics      metrics.MetricsCollector
	logger       *logging.Logger
}

// NewGuard creates a guard. A nil collector disables metrics.
func NewGuard(name string, config Config, collector metrics.MetricsCollector) *Guard {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	isSuccessful := config.IsSuccessful
	if isSuccessful == nil {
		isSuccessful = DefaultIsSuccessful
	}

	logger := logging.L().Named("resilience").Named(name)

	g := &Guard{
		name:         name,
		timeout:      config.Timeout,
		isSuccessful: isSuccessful,
		metrics:      collector,
		logger:       logger,
	}

	logger.Debug("guard initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:         name,
		MaxRequests:  config.CircuitBreakerConfig.MaxRequests,
		Interval:     config.CircuitBreakerConfig.Interval,
		Timeout:      config.CircuitBreakerConfig.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			// Default: trip after 5 consecutive failures
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			g.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}

	g.cb = gobreaker.NewCircuitBreaker(settings)

	return g
}

// Name returns the guard name.
func (g *Guard) Name() string {
	return g.name
}

// State returns the current breaker state.
func (g *Guard) State() metrics.CircuitState {
	return toCircuitState(g.cb.State())
}

// Do runs fn through the breaker with the configured timeout applied to ctx.
//
// An open breaker yields ErrCircuitOpen without calling fn. If fn fails with
// an error the classifier does not accept and the deadline has passed, the
// result wraps both ErrTimeout and fn's error. Accepted errors come back
// unchanged.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.logger.Warn("circuit breaker open - request rejected")
		return ErrCircuitOpen
	}
	if !g.isSuccessful(err) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		g.logger.Warn("operation timeout", zap.Duration("timeout", g.timeout), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	default:
		return metrics.CircuitClosed
	}
}
