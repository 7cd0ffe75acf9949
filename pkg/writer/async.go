// Package writer fills read caches off the request path with a bounded queue
// and a worker pool.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ledger-service/pkg/logging"
	"ledger-service/pkg/metrics"

	"go.uber.org/zap"
)

// Target is the cache an AsyncWriter fills.
type Target interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Op is one pending cache fill.
type Op struct {
	Key   string
	Value []byte
	TTL   time.Duration

	// Stale reports whether the value was invalidated after it was read.
	// It is checked before the Set and again after it; a fill that turns
	// stale while being written is deleted. Nil means never stale.
	Stale func() bool
}

func (op Op) stale() bool {
	return op.Stale != nil && op.Stale()
}

// AsyncWriter performs cache fills in the background so a slow cache layer
// never adds to read latency.
type AsyncWriter struct {
	target     Target
	queue      chan Op
	workers    int
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	config     AsyncWriterConfig
	metrics    metrics.MetricsCollector
	logger     *logging.Logger
	closeOnce  sync.Once

	enqueued atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
	skipped  atomic.Int64
}

// AsyncWriterConfig configures the async writer behavior.
type AsyncWriterConfig struct {
	// Name labels metrics and logs (default: "fill")
	Name string

	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if queue is full.
	// Negative means drop immediately (default: 10ms)
	MaxWaitTime time.Duration

	// WriteTimeout bounds each Set (default: 1s)
	WriteTimeout time.Duration

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// NewAsyncWriter creates a new async writer with bounded queue and worker pool.
// The writer starts processing immediately and must be closed with Close().
func NewAsyncWriter(target Target, config AsyncWriterConfig) *AsyncWriter {
	if config.Name == "" {
		config.Name = "fill"
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &AsyncWriter{
		target:     target,
		queue:      make(chan Op, config.QueueSize),
		workers:    config.Workers,
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		metrics:    config.Metrics,
		logger:     config.Logger.Named("writer").With(zap.String("writer", config.Name)),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	return w
}

// Write enqueues a fill without blocking on the cache.
// If the queue is full, it waits up to MaxWaitTime before dropping the write.
// Returns ErrQueueFull if the write was dropped due to backpressure.
func (w *AsyncWriter) Write(ctx context.Context, op Op) error {
	select {
	case <-w.ctx.Done():
		return ErrWriterClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if w.config.MaxWaitTime < 0 {
		select {
		case w.queue <- op:
			w.enqueued.Add(1)
			return nil
		default:
			return w.drop()
		}
	}

	timer := time.NewTimer(w.config.MaxWaitTime)
	defer timer.Stop()

	select {
	case w.queue <- op:
		w.enqueued.Add(1)
		return nil
	case <-timer.C:
		return w.drop()
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrWriterClosed
	}
}

func (w *AsyncWriter) drop() error {
	w.dropped.Add(1)
	w.metrics.RecordCacheOp(w.config.Name, "async_set", "dropped", 0)
	return ErrQueueFull
}

// worker processes fills until the writer is closed, then drains the queue.
func (w *AsyncWriter) worker() {
	defer w.wg.Done()

	for {
		select {
		case op := <-w.queue:
			w.process(op)
		case <-w.ctx.Done():
			for {
				select {
				case op := <-w.queue:
					w.process(op)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) process(op Op) {
	if op.stale() {
		w.skipped.Add(1)
		w.metrics.RecordCacheOp(w.config.Name, "async_set", "skipped", 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	err := w.target.Set(ctx, op.Key, op.Value, op.TTL)
	duration := time.Since(start)

	if err != nil {
		w.failed.Add(1)
		w.metrics.RecordCacheOp(w.config.Name, "async_set", metrics.OutcomeError, duration)
		w.logger.Debug("async fill failed", zap.String("key", op.Key), zap.Error(err))
		return
	}
	w.metrics.RecordCacheOp(w.config.Name, "async_set", metrics.OutcomeOK, duration)

	if op.stale() {
		if err := w.target.Delete(ctx, op.Key); err != nil {
			w.logger.Warn("failed to drop stale fill", zap.String("key", op.Key), zap.Error(err))
		}
	}
}

// Flush waits for all pending writes to be picked up or until timeout.
// Returns ErrFlushTimeout if timeout is exceeded.
func (w *AsyncWriter) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if len(w.queue) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting new writes and waits for workers to complete.
// Any writes in the queue will be processed before shutdown.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		w.cancelFunc()
		w.wg.Wait()
	})
	return nil
}

// Stats returns the writer's counters.
func (w *AsyncWriter) Stats() Stats {
	return Stats{
		Pending:  len(w.queue),
		Enqueued: w.enqueued.Load(),
		Dropped:  w.dropped.Load(),
		Failed:   w.failed.Load(),
		Skipped:  w.skipped.Load(),
	}
}
