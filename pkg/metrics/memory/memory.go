package memory

import (
	"sync"
	"time"

	"ledger-service/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	postings     map[PostingKey]int64
	postingTimes []time.Duration
	queries      map[string]*QueryMetrics
	cacheOps     map[CacheOpKey]int64
	circuits     map[string]*CircuitMetrics
	httpRequests map[HTTPKey]int64
}

// PostingKey identifies a posting counter.
type PostingKey struct {
	Type    string
	Outcome string
}

// CacheOpKey identifies a cache operation counter.
type CacheOpKey struct {
	Layer   string
	Op      string
	Outcome string
}

// HTTPKey identifies an HTTP request counter.
type HTTPKey struct {
	Method string
	Route  string
	Status int
}

// QueryMetrics holds counters for one query kind.
type QueryMetrics struct {
	Total     int64
	CacheHits int64
	Latencies []time.Duration
}

// CircuitMetrics holds the breaker state for one guard.
type CircuitMetrics struct {
	State metrics.CircuitState
	Opens int64
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	mc := &MemoryCollector{}
	mc.reset()
	return mc
}

func (mc *MemoryCollector) reset() {
	mc.postings = make(map[PostingKey]int64)
	mc.postingTimes = nil
	mc.queries = make(map[string]*QueryMetrics)
	mc.cacheOps = make(map[CacheOpKey]int64)
	mc.circuits = make(map[string]*CircuitMetrics)
	mc.httpRequests = make(map[HTTPKey]int64)
}

// RecordPosting records a PostTransaction outcome.
func (mc *MemoryCollector) RecordPosting(txType, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.postings[PostingKey{Type: txType, Outcome: outcome}]++
	mc.postingTimes = append(mc.postingTimes, duration)
}

// RecordQuery records a read-side query.
func (mc *MemoryCollector) RecordQuery(kind string, cacheHit bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	qm, exists := mc.queries[kind]
	if !exists {
		qm = &QueryMetrics{}
		mc.queries[kind] = qm
	}
	qm.Total++
	if cacheHit {
		qm.CacheHits++
	}
	qm.Latencies = append(qm.Latencies, duration)
}

// RecordCacheOp records a single cache layer operation.
func (mc *MemoryCollector) RecordCacheOp(layer, op, outcome string, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.cacheOps[CacheOpKey{Layer: layer, Op: op, Outcome: outcome}]++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	cm, exists := mc.circuits[name]
	if !exists {
		cm = &CircuitMetrics{}
		mc.circuits[name] = cm
	}

	// Count transitions to open
	if cm.State != metrics.CircuitOpen && state == metrics.CircuitOpen {
		cm.Opens++
	}
	cm.State = state
}

// RecordHTTPRequest records one served HTTP request.
func (mc *MemoryCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.httpRequests[HTTPKey{Method: method, Route: route, Status: status}]++
}

// Postings returns how many postings of txType ended with outcome.
func (mc *MemoryCollector) Postings(txType, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.postings[PostingKey{Type: txType, Outcome: outcome}]
}

// TotalPostings returns the number of RecordPosting calls.
func (mc *MemoryCollector) TotalPostings() int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	var total int64
	for _, n := range mc.postings {
		total += n
	}
	return total
}

// Query returns a copy of the metrics for kind, or nil if none were recorded.
func (mc *MemoryCollector) Query(kind string) *QueryMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if qm, exists := mc.queries[kind]; exists {
		// Return a copy
		copy := *qm
		copy.Latencies = append([]time.Duration(nil), qm.Latencies...)
		return &copy
	}
	return nil
}

// CacheOps returns the counter for one layer, op and outcome.
func (mc *MemoryCollector) CacheOps(layer, op, outcome string) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.cacheOps[CacheOpKey{Layer: layer, Op: op, Outcome: outcome}]
}

// Circuit returns a copy of the breaker metrics for name, or nil.
func (mc *MemoryCollector) Circuit(name string) *CircuitMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if cm, exists := mc.circuits[name]; exists {
		copy := *cm
		return &copy
	}
	return nil
}

// HTTPRequests returns the counter for one method, route and status.
func (mc *MemoryCollector) HTTPRequests(method, route string, status int) int64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.httpRequests[HTTPKey{Method: method, Route: route, Status: status}]
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.reset()
}
