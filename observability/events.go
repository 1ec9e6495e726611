package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"solfind/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured escrow and
// workflow events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "solfind",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for an event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// CountingEmitter wraps an emitter and counts every event passing through.
type CountingEmitter struct {
	Next events.Emitter
}

// Emit implements events.Emitter.
func (c CountingEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	Events().Record(evt.EventType())
	if c.Next != nil {
		c.Next.Emit(evt)
	}
}
