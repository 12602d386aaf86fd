package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheLookupOutcome captures the result of a cache record lookup.
type CacheLookupOutcome string

const (
	// CacheLookupHit indicates the lookup found a readable record.
	CacheLookupHit CacheLookupOutcome = "hit"
	// CacheLookupMiss indicates no record (or an unreadable one) was present.
	CacheLookupMiss CacheLookupOutcome = "miss"
	// CacheLookupError indicates the lookup failed due to a store error.
	CacheLookupError CacheLookupOutcome = "error"
)

// Recorder publishes Prometheus metrics for gateway activity. A nil Recorder
// is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	upstreamCalls   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec

	sessionOperations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livegate",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total API requests processed, by endpoint and outcome.",
	}, []string{"endpoint", "outcome", "status_code"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livegate",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed API requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livegate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache record operations executed by the gateway.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livegate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache record operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livegate",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Upstream liveness checks, by result.",
	}, []string{"result"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livegate",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Latency distribution for upstream liveness checks.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"result"})

	sessionOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livegate",
		Subsystem: "session",
		Name:      "operations_total",
		Help:      "Session gate operations, by operation and result.",
	}, []string{"operation", "result"})

	reg.MustRegister(requests, requestLatency, cacheOperations, cacheLatency, upstreamCalls, upstreamLatency, sessionOperations)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		requests:          requests,
		requestLatency:    requestLatency,
		cacheOperations:   cacheOperations,
		cacheLatency:      cacheLatency,
		upstreamCalls:     upstreamCalls,
		upstreamLatency:   upstreamLatency,
		sessionOperations: sessionOperations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the outcome and latency for a completed API request.
func (r *Recorder) ObserveRequest(endpoint, outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	endpointLabel := normalizeLabel(endpoint)
	outcomeLabel := normalizeLabel(outcome)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.requests.WithLabelValues(endpointLabel, outcomeLabel, statusLabel).Inc()
	r.requestLatency.WithLabelValues(endpointLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a cache record lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheLookupMiss)
	}
	r.observeCache("lookup", resultLabel, duration)
}

// ObserveCacheStore records the result of a cache record upsert.
func (r *Recorder) ObserveCacheStore(ok bool, duration time.Duration) {
	if r == nil {
		return
	}
	r.observeCache("store", okLabel(ok, "stored", "error"), duration)
}

// ObserveUpstreamCall records one upstream liveness check.
func (r *Recorder) ObserveUpstreamCall(ok bool, duration time.Duration) {
	if r == nil {
		return
	}
	result := okLabel(ok, "success", "failure")
	r.upstreamCalls.WithLabelValues(result).Inc()
	r.upstreamLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveSessionOperation records one session gate operation.
func (r *Recorder) ObserveSessionOperation(operation string, ok bool) {
	if r == nil {
		return
	}
	r.sessionOperations.WithLabelValues(normalizeLabel(operation), okLabel(ok, "success", "failure")).Inc()
}

func (r *Recorder) observeCache(operation, result string, duration time.Duration) {
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(operation, resLabel).Inc()
	r.cacheLatency.WithLabelValues(operation, resLabel).Observe(duration.Seconds())
}

func okLabel(ok bool, success, failure string) string {
	if ok {
		return success
	}
	return failure
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
