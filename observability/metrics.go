package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type escrowMetrics struct {
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	phases   *prometheus.CounterVec
}

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type reconMetrics struct {
	runs      *prometheus.CounterVec
	anomalies *prometheus.CounterVec
	duration  prometheus.Histogram
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *escrowMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics

	reconMetricsOnce sync.Once
	reconRegistry    *reconMetrics
)

// Escrow returns the lazily-initialised registry for escrow attempts run by
// the client orchestrator.
func Escrow() *escrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &escrowMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "escrow",
				Name:      "attempts_total",
				Help:      "Escrow transaction attempts segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "solfind",
				Subsystem: "escrow",
				Name:      "attempt_duration_seconds",
				Help:      "Time from building an escrow transaction to finality or failure.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90, 120},
			}, []string{"op"}),
			phases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "escrow",
				Name:      "phase_transitions_total",
				Help:      "Attempt phase transitions segmented by operation and phase entered.",
			}, []string{"op", "phase"}),
		}
		prometheus.MustRegister(
			escrowRegistry.attempts,
			escrowRegistry.latency,
			escrowRegistry.phases,
		)
	})
	return escrowRegistry
}

// ObserveAttempt records a finished attempt. Outcome is "confirmed" on
// success and the error kind otherwise.
func (m *escrowMetrics) ObserveAttempt(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	m.attempts.WithLabelValues(op, normalizeLabel(outcome)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPhase counts an attempt entering phase.
func (m *escrowMetrics) RecordPhase(op, phase string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(normalizeLabel(op), normalizeLabel(phase)).Inc()
}

// Gateway returns the registry for HTTP gateway handlers.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "solfind",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected by the gateway rate limiter.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *gatewayMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Recon returns the registry for reconciliation runs.
func Recon() *reconMetrics {
	reconMetricsOnce.Do(func() {
		reconRegistry = &reconMetrics{
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "recon",
				Name:      "runs_total",
				Help:      "Reconciliation runs segmented by outcome.",
			}, []string{"outcome"}),
			anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "recon",
				Name:      "anomalies_total",
				Help:      "Reconciliation findings segmented by kind.",
			}, []string{"kind"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "solfind",
				Subsystem: "recon",
				Name:      "run_duration_seconds",
				Help:      "Wall time of a reconciliation run.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(reconRegistry.runs, reconRegistry.anomalies, reconRegistry.duration)
	})
	return reconRegistry
}

// ObserveRun records a finished run.
func (m *reconMetrics) ObserveRun(duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordAnomaly counts one finding of kind.
func (m *reconMetrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(normalizeLabel(kind)).Inc()
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}
