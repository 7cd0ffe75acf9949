package chain

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"ledger-service/pkg/cache"
	"ledger-service/pkg/metrics"
	"ledger-service/pkg/resilience"

	"golang.org/x/sync/singleflight"
)

// Config configures a Chain.
type Config struct {
	// WarmTTL is the TTL used when a hit in a lower layer is copied into the
	// layers above it. Defaults to 5s.
	WarmTTL time.Duration

	// L1Timeout bounds calls to the first layer, DeepTimeout the others.
	L1Timeout   time.Duration
	DeepTimeout time.Duration

	// Metrics receives per-layer cache operation metrics.
	Metrics metrics.MetricsCollector
}

// DefaultConfig returns the chain defaults.
func DefaultConfig() Config {
	return Config{
		WarmTTL:     5 * time.Second,
		L1Timeout:   100 * time.Millisecond,
		DeepTimeout: time.Second,
	}
}

// Chain manages multiple cache layers with automatic fallback and warm-up.
// Layers are ordered from fastest (L1) to slowest (LN).
type Chain struct {
	layers  []cache.CacheLayer
	warmTTL time.Duration
	sf      singleflight.Group
	inval   invalidations
}

// invalidations lets a traversal find out whether a Delete or DeletePrefix
// overlapped it. The epoch moves when an invalidation starts and again when
// it ends, so a traversal that overlapped any part of one sees a change.
type invalidations struct {
	epoch  atomic.Uint64
	active atomic.Int64
}

func (v *invalidations) begin() {
	v.active.Add(1)
	v.epoch.Add(1)
}

func (v *invalidations) end() {
	v.epoch.Add(1)
	v.active.Add(-1)
}

func (v *invalidations) snapshot() uint64 {
	return v.epoch.Load()
}

func (v *invalidations) changedSince(snapshot uint64) bool {
	return v.active.Load() > 0 || v.epoch.Load() != snapshot
}

type flight struct {
	value    []byte
	snapshot uint64
}

// New creates a new chain of cache layers.
// Layers should be ordered from fastest to slowest (L1 to LN).
// Returns an error if no layers are provided.
// All layers are automatically wrapped with resilience protection.
func New(config Config, layers ...cache.CacheLayer) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}

	defaults := DefaultConfig()
	if config.WarmTTL <= 0 {
		config.WarmTTL = defaults.WarmTTL
	}
	if config.L1Timeout <= 0 {
		config.L1Timeout = defaults.L1Timeout
	}
	if config.DeepTimeout <= 0 {
		config.DeepTimeout = defaults.DeepTimeout
	}

	resilientLayers := make([]cache.CacheLayer, len(layers))
	for i, layer := range layers {
		// L1 (memory) should be fast, deeper layers can be slower
		timeout := config.DeepTimeout
		if i == 0 {
			timeout = config.L1Timeout
		}
		rc := resilience.DefaultConfig().WithTimeout(timeout)
		resilientLayers[i] = resilience.NewResilientLayer(layer, rc, config.Metrics)
	}

	return &Chain{
		layers:  resilientLayers,
		warmTTL: config.WarmTTL,
	}, nil
}

// Get retrieves a value from the chain.
// It traverses layers in order until a hit, then synchronously warms upper layers.
// Concurrent Gets for the same key share one traversal. A traversal that
// overlapped an invalidation reports a miss, since the value it found may be
// the one the invalidation removed.
func (c *Chain) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		snapshot := c.inval.snapshot()
		value, err := c.getWithFallback(ctx, key, snapshot)
		return flight{value: value, snapshot: snapshot}, err
	})
	if err != nil {
		return nil, err
	}

	f := result.(flight)
	if c.inval.changedSince(f.snapshot) {
		return nil, cache.ErrKeyNotFound
	}
	return f.value, nil
}

// getWithFallback performs the actual chain traversal and warm-up.
func (c *Chain) getWithFallback(ctx context.Context, key string, snapshot uint64) ([]byte, error) {
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Misses and layer failures both fall through to the next layer.
		value, err := layer.Get(ctx, key)
		if err != nil {
			continue
		}

		if i > 0 {
			c.warmUpperLayers(ctx, key, value, i, snapshot)
		}

		return value, nil
	}

	return nil, cache.ErrKeyNotFound
}

// warmUpperLayers writes value into every layer above the hit layer unless an
// invalidation overlapped the traversal. A warm-up overtaken by one while it
// was writing is removed again. Failures are recorded by the resilient
// wrappers and otherwise ignored.
func (c *Chain) warmUpperLayers(ctx context.Context, key string, value []byte, hitIndex int, snapshot uint64) {
	if c.inval.changedSince(snapshot) {
		return
	}
	for i := hitIndex - 1; i >= 0; i-- {
		_ = c.layers[i].Set(ctx, key, value, c.warmTTL)
	}
	if c.inval.changedSince(snapshot) {
		for i := hitIndex - 1; i >= 0; i-- {
			_ = c.layers[i].Delete(ctx, key)
		}
	}
}

// Set writes the value to all layers in the chain.
// Every layer is attempted; the joined errors are returned.
func (c *Chain) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.each(ctx, func(layer cache.CacheLayer) error {
		return layer.Set(ctx, key, value, ttl)
	})
}

// Delete removes the key from all layers in the chain.
func (c *Chain) Delete(ctx context.Context, key string) error {
	c.inval.begin()
	defer c.inval.end()
	return c.each(ctx, func(layer cache.CacheLayer) error {
		return layer.Delete(ctx, key)
	})
}

// DeletePrefix removes every key under prefix from all layers in the chain.
func (c *Chain) DeletePrefix(ctx context.Context, prefix string) error {
	c.inval.begin()
	defer c.inval.end()
	return c.each(ctx, func(layer cache.CacheLayer) error {
		return layer.DeletePrefix(ctx, prefix)
	})
}

func (c *Chain) each(ctx context.Context, fn func(layer cache.CacheLayer) error) error {
	var errs []error
	for _, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if err := fn(layer); err != nil {
			errs = append(errs, cache.LayerError(layer.Name(), "write", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all layers in the chain.
// Every layer is closed; the joined errors are returned.
func (c *Chain) Close() error {
	var errs []error
	for _, layer := range c.layers {
		if err := layer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return "chain(" + strings.Join(names, " -> ") + ")"
}
