package writer

import "errors"

// Stats is a point-in-time view of an AsyncWriter's counters.
type Stats struct {
	// Pending fills waiting in the queue.
	Pending int

	// Enqueued fills accepted by Write.
	Enqueued int64

	// Dropped fills rejected because the queue stayed full.
	Dropped int64

	// Failed fills whose Set returned an error.
	Failed int64

	// Skipped fills that were already stale when a worker picked them up.
	Skipped int64
}

var (
	// ErrQueueFull is returned when a fill could not be queued within MaxWaitTime.
	ErrQueueFull = errors.New("writer: fill queue full, fill dropped")

	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("writer: writer is closed")

	// ErrFlushTimeout is returned when Flush gives up on a non-empty queue.
	ErrFlushTimeout = errors.New("writer: flush timeout exceeded")
)
