package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus counters that track sink failures: each
// failure is logged and counted. Kept
// unregistered by default (NewMetrics creates bare collectors); a
// caller that wants them exposed registers them with its own registry
// (cmd/conductord does this alongside the rest of internal/telemetry's
// collectors).
type Metrics struct {
	delivered *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Notifications successfully delivered, by sink.",
		}, []string{"sink"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed, by sink.",
		}, []string{"sink"}),
	}
}

// Collectors returns the metrics in a form ready for
// prometheus.Registry.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.delivered, m.failures}
}
