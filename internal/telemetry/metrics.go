package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus collectors: active
// turns, tool-call outcomes, and event-log write latency. Like
// internal/notify's Metrics, collectors are built unregistered and
// exposed via Collectors() so the caller (cmd/conductord) decides which
// registry they join, rather than this package reaching for the global
// default registry itself.
type Metrics struct {
	activeTurns       prometheus.Gauge
	toolCalls         *prometheus.CounterVec
	eventWriteLatency prometheus.Histogram
}

// NewMetrics builds an unregistered Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conductor",
			Name:      "active_turns",
			Help:      "Number of node turns currently in flight.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Name:      "tool_calls_total",
			Help:      "Total tool calls dispatched, by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		eventWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "conductor",
			Name:      "event_log_write_seconds",
			Help:      "Latency of appending an event to a run's event log.",
			Buckets:   []float64{.0005, .001, .002, .005, .01, .025, .05, .1, .25, .5},
		}),
	}
}

// Collectors returns every collector for a caller to register.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.activeTurns, m.toolCalls, m.eventWriteLatency}
}

// TurnStarted increments the active-turns gauge. Nil-safe.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.activeTurns.Inc()
}

// TurnEnded decrements the active-turns gauge. Nil-safe.
func (m *Metrics) TurnEnded() {
	if m == nil {
		return
	}
	m.activeTurns.Dec()
}

// ToolCallRecorded increments the tool-call counter for tool/outcome.
// outcome is conventionally "ok", "error", or "blocked" (awaiting
// approval). Nil-safe.
func (m *Metrics) ToolCallRecorded(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveEventWrite records how long an event-log append took. Nil-safe.
func (m *Metrics) ObserveEventWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.eventWriteLatency.Observe(d.Seconds())
}
