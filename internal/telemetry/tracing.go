// Package telemetry wires the daemon's ambient observability stack: one
// OpenTelemetry span per turn and one child span per tool call,
// exported over OTLP/gRPC, plus the Prometheus counters/gauges the
// orchestration loop needs. Grounded on the teacher's
// internal/observability/tracing.go Tracer, narrowed from that package's
// general-purpose message/LLM/HTTP/DB span helpers down to the two spans
// this daemon actually produces.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures OTLP export. An empty Endpoint disables export
// entirely and Tracer falls back to a no-op tracer, matching the
// teacher's "tracing is opt-in" convention.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	SamplingRate   float64
	Attributes     map[string]string
	Insecure       bool
}

// Tracer emits the daemon's two span kinds: a turn span (one per
// noderunner.Runner.Turn call) and a tool-call span (one per
// tools.Executor.Execute call), nested as the turn span's child.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer from config. If config.Endpoint is empty, or
// exporter construction fails, it returns a no-op tracer and a shutdown
// function that does nothing — tracing is always safe to wire in.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "conductord"
	}
	noop := func() (*Tracer, func(context.Context) error) {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, func(context.Context) error { return nil }
	}
	if config.Endpoint == "" {
		return noop()
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return noop()
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

// TraceTurn starts the per-turn span. The caller ends
// it with span.End() once noderunner.Runner.Turn returns.
func (t *Tracer) TraceTurn(ctx context.Context, runID, nodeID string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "turn", trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("node.id", nodeID),
	))
}

// TraceToolCall starts a tool-call span as a child of whatever span is
// already on ctx (the enclosing turn span, when called from within one).
func (t *Tracer) TraceToolCall(ctx context.Context, toolName string, call ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	attrs := append([]attribute.KeyValue{attribute.String("tool.name", toolName)}, call...)
	return t.tracer.Start(ctx, "tool_call", trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

// RecordError records err on span and marks the span status as error.
// A nil Tracer or nil err is a no-op, so call sites don't need to guard.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if t == nil || err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes attaches attrs to span. Nil-safe like RecordError.
func (t *Tracer) SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if t == nil || span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// GetTraceID returns the active trace ID from ctx, or "" if none, so a
// caller can correlate a record with its trace without importing the
// trace SDK. No code in this repository calls it.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
