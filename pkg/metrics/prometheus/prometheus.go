package prometheus

import (
	"strconv"
	"time"

	"ledger-service/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector for Prometheus.
type PrometheusCollector struct {
	namespace string

	// Postings
	postings       *prometheus.CounterVec
	postingLatency *prometheus.HistogramVec

	// Queries
	queries      *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec

	// Cache layers
	cacheOps     *prometheus.CounterVec
	cacheLatency *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewPrometheusCollector creates a new Prometheus metrics collector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	buckets := prometheus.ExponentialBuckets(0.0001, 2, 15)

	pc := &PrometheusCollector{
		namespace: namespace,
		postings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_total",
				Help:      "Total number of posting attempts by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		postingLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "posting_duration_seconds",
				Help:      "Posting latency including validation and commit",
				Buckets:   buckets,
			},
			[]string{"type"},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of read queries by kind and cache result",
			},
			[]string{"kind", "cache_hit"},
		),
		queryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Read query latency",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),
		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Total number of cache operations per layer",
			},
			[]string{"layer", "op", "outcome"},
		),
		cacheLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation latency per layer",
				Buckets:   buckets,
			},
			[]string{"layer", "op"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens",
			},
			[]string{"name"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	return pc
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pc.postings,
		pc.postingLatency,
		pc.queries,
		pc.queryLatency,
		pc.cacheOps,
		pc.cacheLatency,
		pc.circuitOpens,
		pc.circuitState,
		pc.httpRequests,
		pc.httpLatency,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordPosting records a PostTransaction outcome.
func (pc *PrometheusCollector) RecordPosting(txType, outcome string, duration time.Duration) {
	pc.postings.WithLabelValues(txType, outcome).Inc()
	pc.postingLatency.WithLabelValues(txType).Observe(duration.Seconds())
}

// RecordQuery records a read-side query.
func (pc *PrometheusCollector) RecordQuery(kind string, cacheHit bool, duration time.Duration) {
	pc.queries.WithLabelValues(kind, strconv.FormatBool(cacheHit)).Inc()
	pc.queryLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheOp records a single cache layer operation.
func (pc *PrometheusCollector) RecordCacheOp(layer, op, outcome string, duration time.Duration) {
	pc.cacheOps.WithLabelValues(layer, op, outcome).Inc()
	pc.cacheLatency.WithLabelValues(layer, op).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
	if state == metrics.CircuitOpen {
		pc.circuitOpens.WithLabelValues(name).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func (pc *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	pc.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	pc.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
