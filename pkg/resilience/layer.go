package resilience

import (
	"context"
	"time"

	"ledger-service/pkg/cache"
	"ledger-service/pkg/metrics"

	"go.uber.org/zap"
)

// ResilientLayer wraps a CacheLayer with a Guard and records one
// RecordCacheOp per call. Cache misses count as breaker successes.
type ResilientLayer struct {
	layer   cache.CacheLayer
	guard   *Guard
	metrics metrics.MetricsCollector
}

// NewResilientLayer wraps layer. A nil collector disables metrics.
func NewResilientLayer(layer cache.CacheLayer, config Config, collector metrics.MetricsCollector) *ResilientLayer {
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	config = config.WithSuccessClassifier(cache.IsNotFound)

	return &ResilientLayer{
		layer:   layer,
		guard:   NewGuard("cache."+layer.Name(), config, collector),
		metrics: collector,
	}
}

// Name returns the name of the underlying cache layer.
func (rl *ResilientLayer) Name() string {
	return rl.layer.Name()
}

// Get retrieves a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	var value []byte
	err := rl.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		value, err = rl.layer.Get(ctx, key)
		return err
	})

	outcome := cache.GetOutcome(err)
	if outcome == metrics.OutcomeError {
		rl.guard.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	rl.metrics.RecordCacheOp(rl.layer.Name(), "get", outcome, time.Since(start))

	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return rl.write(ctx, "set", key, func(ctx context.Context) error {
		return rl.layer.Set(ctx, key, value, ttl)
	})
}

// Delete removes a value with timeout and circuit breaker protection.
func (rl *ResilientLayer) Delete(ctx context.Context, key string) error {
	return rl.write(ctx, "delete", key, func(ctx context.Context) error {
		return rl.layer.Delete(ctx, key)
	})
}

// DeletePrefix removes every key under prefix with timeout and circuit breaker protection.
func (rl *ResilientLayer) DeletePrefix(ctx context.Context, prefix string) error {
	return rl.write(ctx, "invalidate", prefix, func(ctx context.Context) error {
		return rl.layer.DeletePrefix(ctx, prefix)
	})
}

func (rl *ResilientLayer) write(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := rl.guard.Do(ctx, fn)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		rl.guard.logger.Warn("cache "+op+" failed", zap.String("key", key), zap.Error(err))
	}
	rl.metrics.RecordCacheOp(rl.layer.Name(), op, outcome, time.Since(start))

	return err
}

// State returns the breaker state guarding this layer.
func (rl *ResilientLayer) State() metrics.CircuitState {
	return rl.guard.State()
}

// Close closes the underlying cache layer.
func (rl *ResilientLayer) Close() error {
	return rl.layer.Close()
}
