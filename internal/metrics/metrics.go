// Package metrics bundles the Prometheus collectors for the extraction
// engine, registered on a dedicated registry served by the serve command.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	Registry           *prometheus.Registry
	AttemptsTotal      *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	ResultsTotal       *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
	CacheHitsTotal     prometheus.Counter
	FetchDuration      prometheus.Histogram
	ItemsInFlight      prometheus.Gauge
}

// New constructs and registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxbill_fetch_attempts_total",
			Help: "Fetch attempts by source key.",
		},
		[]string{"source"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taxbill_retries_total",
			Help: "Retry attempts scheduled after a retryable failure.",
		},
	)
	results := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxbill_results_total",
			Help: "Extraction results by terminal status.",
		},
		[]string{"status"},
	)
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taxbill_circuit_transitions_total",
			Help: "Circuit breaker state transitions by source and target state.",
		},
		[]string{"source", "to"},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taxbill_cache_hits_total",
			Help: "Response cache hits within the run.",
		},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taxbill_fetch_duration_seconds",
			Help:    "Wall-clock duration of item processing, including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taxbill_items_in_flight",
			Help: "Work items currently being processed.",
		},
	)

	registry.MustRegister(attempts, retries, results, transitions, cacheHits, fetchDuration, inFlight)

	return &Metrics{
		Registry:           registry,
		AttemptsTotal:      attempts,
		RetriesTotal:       retries,
		ResultsTotal:       results,
		CircuitTransitions: transitions,
		CacheHitsTotal:     cacheHits,
		FetchDuration:      fetchDuration,
		ItemsInFlight:      inFlight,
	}
}

// ObserveResult records a terminal result and its processing duration.
func (m *Metrics) ObserveResult(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResultsTotal.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

// IncAttempts adds n fetch attempts for a source.
func (m *Metrics) IncAttempts(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AttemptsTotal.WithLabelValues(source).Add(float64(n))
}

// IncRetry counts one scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncCacheHit counts one response-cache hit.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncInFlight marks one work item entering processing.
func (m *Metrics) IncInFlight() {
	if m == nil {
		return
	}
	m.ItemsInFlight.Inc()
}

// DecInFlight marks one work item leaving processing.
func (m *Metrics) DecInFlight() {
	if m == nil {
		return
	}
	m.ItemsInFlight.Dec()
}

// IncCircuitTransition counts one breaker transition.
func (m *Metrics) IncCircuitTransition(source, to string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(source, to).Inc()
}
