// Package metrics provides Prometheus metrics for LOOM.BUILD monitoring.
// Exports AI provider, orchestration, circuit breaker, and background run metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for LOOM.BUILD
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// AI Metrics
	AIRequestsTotal   *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AIFallbacksTotal  *prometheus.CounterVec
	AIProviderHealth  *prometheus.GaugeVec

	// Orchestration Metrics
	FuelSpentTotal     *prometheus.CounterVec
	BreakerTripsTotal  *prometheus.CounterVec
	PreflightTotal     *prometheus.CounterVec
	AuditGatesTotal    *prometheus.CounterVec
	ParallelFanoutSize prometheus.Histogram

	// Background Run Metrics
	RunTransitionsTotal *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	RunsQueuedGauge     prometheus.Gauge

	// System Metrics
	StartupTime prometheus.Gauge
}

// Get returns the singleton Metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics creates and registers all Prometheus metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by endpoint, method, and status code",
		},
		[]string{"endpoint", "method", "status"},
	)

	m.HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method"},
	)

	m.AIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "Total number of AI requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	m.AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "ai",
			Name:      "request_duration_seconds",
			Help:      "AI request duration in seconds",
			Buckets:   []float64{.5, 1, 2, 3, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	m.AIFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Total number of AI provider fallbacks",
		},
		[]string{"from_provider", "to_provider", "reason"},
	)

	m.AIProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "ai",
			Name:      "provider_health",
			Help:      "AI provider health status (1=healthy, 0=cooling down)",
		},
		[]string{"provider"},
	)

	m.FuelSpentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "orchestrator",
			Name:      "fuel_spent_total",
			Help:      "Total fuel units charged by model tier",
		},
		[]string{"tier"},
	)

	m.BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "orchestrator",
			Name:      "breaker_trips_total",
			Help:      "Total circuit breaker refusals by reason",
		},
		[]string{"reason"},
	)

	m.PreflightTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "orchestrator",
			Name:      "preflight_total",
			Help:      "Preflight outcomes by verdict",
		},
		[]string{"verdict"},
	)

	m.AuditGatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "audit",
			Name:      "gates_total",
			Help:      "Audit gate outcomes by gate and result",
		},
		[]string{"gate", "result"},
	)

	m.ParallelFanoutSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "orchestrator",
			Name:      "parallel_fanout_size",
			Help:      "Number of subtasks per parallel fan-out",
			Buckets:   []float64{1, 2, 3, 4, 6, 8},
		},
	)

	m.RunTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loom",
			Subsystem: "runs",
			Name:      "transitions_total",
			Help:      "Background run state transitions by from/to status",
		},
		[]string{"from", "to"},
	)

	m.DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "loom",
			Subsystem: "runs",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a dispatch call in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
	)

	m.RunsQueuedGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "runs",
			Name:      "queued",
			Help:      "Number of background runs currently queued",
		},
	)

	m.StartupTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loom",
			Subsystem: "server",
			Name:      "startup_timestamp",
			Help:      "Server startup timestamp",
		},
	)

	m.StartupTime.Set(float64(time.Now().Unix()))

	return m
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(endpoint, method string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, statusCodeToLabel(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordAIRequest records an AI request metric
func (m *Metrics) RecordAIRequest(provider, status string, duration time.Duration) {
	m.AIRequestsTotal.WithLabelValues(provider, status).Inc()
	m.AIRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordAIFallback records an AI provider fallback
func (m *Metrics) RecordAIFallback(fromProvider, toProvider, reason string) {
	m.AIFallbacksTotal.WithLabelValues(fromProvider, toProvider, reason).Inc()
}

// SetAIProviderHealth sets the health status of an AI provider
func (m *Metrics) SetAIProviderHealth(provider string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.AIProviderHealth.WithLabelValues(provider).Set(value)
}

// RecordFuelSpend records fuel charged against a session budget
func (m *Metrics) RecordFuelSpend(tier string, units int) {
	m.FuelSpentTotal.WithLabelValues(tier).Add(float64(units))
}

// RecordBreakerTrip records a circuit breaker refusal
func (m *Metrics) RecordBreakerTrip(reason string) {
	m.BreakerTripsTotal.WithLabelValues(reason).Inc()
}

// RecordRunTransition records a background run state transition
func (m *Metrics) RecordRunTransition(from, to string) {
	m.RunTransitionsTotal.WithLabelValues(from, to).Inc()
}

// Helper function to convert status code to label
func statusCodeToLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
