package config

import (
	"context"

	"github.com/conductorhq/conductor/internal/telemetry"
)

// BuildTracer turns the tracing.* table into a telemetry.Tracer and its
// shutdown func. When tracing is disabled, it still returns a usable
// no-op Tracer (telemetry.NewTracer's own empty-endpoint fallback) so
// callers never need a nil check.
func (c *Config) BuildTracer() (*telemetry.Tracer, func(context.Context) error) {
	t := c.Tracing
	endpoint := t.Endpoint
	if !t.Enabled {
		endpoint = ""
	}
	return telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: t.ServiceVersion,
		Environment:    t.Environment,
		Endpoint:       endpoint,
		SamplingRate:   t.SamplingRate,
		Attributes:     t.Attributes,
		Insecure:       t.Insecure,
	})
}

// BuildMetrics constructs the Prometheus collectors for the telemetry
// package. Unlike BuildTracer, there is no config-driven toggle: the
// collectors are cheap to hold even when nothing scrapes /metrics, and
// cmd/conductord decides whether to mount the HTTP handler.
func (c *Config) BuildMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics()
}
