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

// RequestOutcome classifies a completed backend call.
type RequestOutcome string

const (
	// RequestOK indicates a 2xx response with a decodable envelope.
	RequestOK RequestOutcome = "ok"
	// RequestHTTPError indicates the backend answered with a non-2xx status.
	RequestHTTPError RequestOutcome = "http_error"
	// RequestNetworkError indicates no response was received.
	RequestNetworkError RequestOutcome = "network_error"
	// RequestDecodeError indicates a 2xx response whose body was not an envelope.
	RequestDecodeError RequestOutcome = "decode_error"
)

// CacheEvent identifies a query cache transition worth counting.
type CacheEvent string

const (
	// CacheHit records a subscription served from a fresh entry.
	CacheHit CacheEvent = "hit"
	// CacheMiss records a subscription that had to start a fetch.
	CacheMiss CacheEvent = "miss"
	// CacheJoin records a subscription that attached to a fetch already in flight.
	CacheJoin CacheEvent = "join"
	// CacheRefetch records a fetch started by invalidation or an explicit refetch.
	CacheRefetch CacheEvent = "refetch"
	// CacheEvict records an entry dropped after its grace period.
	CacheEvict CacheEvent = "evict"
	// CachePersistedHit records a fetch satisfied by the persisted payload store.
	CachePersistedHit CacheEvent = "persisted_hit"
	// CacheDiscard records a fetch result dropped because a newer fetch superseded it.
	CacheDiscard CacheEvent = "discard"
)

// Recorder publishes Prometheus metrics for backend and cache activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec

	cacheEvents   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	entries       prometheus.Gauge
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admindata",
		Subsystem: "backend",
		Name:      "requests_total",
		Help:      "Backend calls issued by the HTTP client core.",
	}, []string{"endpoint", "method", "status_code", "outcome"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "admindata",
		Subsystem: "backend",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for backend calls.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint", "method"})

	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admindata",
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Query cache events by endpoint.",
	}, []string{"endpoint", "event"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "admindata",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cache entries marked stale, by tag.",
	}, []string{"tag"})

	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "admindata",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live query cache entries.",
	})

	reg.MustRegister(requests, requestLatency, cacheEvents, invalidations, entries)

	return &Recorder{
		gatherer:       reg,
		handler:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests:       requests,
		requestLatency: requestLatency,
		cacheEvents:    cacheEvents,
		invalidations:  invalidations,
		entries:        entries,
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

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records one backend call.
func (r *Recorder) ObserveRequest(endpoint, method string, statusCode int, outcome RequestOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	endpointLabel := normalizeLabel(endpoint)
	methodLabel := normalizeLabel(strings.ToUpper(method))
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "none"
	}
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(RequestNetworkError)
	}
	r.requests.WithLabelValues(endpointLabel, methodLabel, statusLabel, outcomeLabel).Inc()
	r.requestLatency.WithLabelValues(endpointLabel, methodLabel).Observe(duration.Seconds())
}

// ObserveCache records a cache event for endpoint.
func (r *Recorder) ObserveCache(endpoint string, event CacheEvent) {
	if r == nil {
		return
	}
	r.cacheEvents.WithLabelValues(normalizeLabel(endpoint), normalizeLabel(string(event))).Inc()
}

// ObserveInvalidation records count entries marked stale by tag.
func (r *Recorder) ObserveInvalidation(tag string, count int) {
	if r == nil || count <= 0 {
		return
	}
	r.invalidations.WithLabelValues(normalizeLabel(tag)).Add(float64(count))
}

// SetEntries publishes the number of live cache entries.
func (r *Recorder) SetEntries(n int) {
	if r == nil {
		return
	}
	r.entries.Set(float64(n))
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
