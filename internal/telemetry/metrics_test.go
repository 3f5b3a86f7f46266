package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsTurnGaugeTracksActiveCount(t *testing.T) {
	m := NewMetrics()

	m.TurnStarted()
	m.TurnStarted()
	if got := testutil.ToFloat64(m.activeTurns); got != 2 {
		t.Fatalf("expected 2 active turns, got %v", got)
	}
	m.TurnEnded()
	if got := testutil.ToFloat64(m.activeTurns); got != 1 {
		t.Fatalf("expected 1 active turn after one end, got %v", got)
	}
}

func TestMetricsToolCallsLabelByOutcome(t *testing.T) {
	m := NewMetrics()

	m.ToolCallRecorded("write_file", "ok")
	m.ToolCallRecorded("write_file", "ok")
	m.ToolCallRecorded("run_command", "blocked")

	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("write_file", "ok")); got != 2 {
		t.Fatalf("expected 2 ok write_file calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.toolCalls.WithLabelValues("run_command", "blocked")); got != 1 {
		t.Fatalf("expected 1 blocked run_command call, got %v", got)
	}
}

func TestMetricsObserveEventWrite(t *testing.T) {
	m := NewMetrics()
	m.ObserveEventWrite(5 * time.Millisecond)

	if got := testutil.CollectAndCount(m.eventWriteLatency); got != 1 {
		t.Fatalf("expected one observation, got %d", got)
	}
}

func TestMetricsCollectorsExposesAll(t *testing.T) {
	m := NewMetrics()
	if len(m.Collectors()) != 3 {
		t.Fatalf("expected 3 collectors, got %d", len(m.Collectors()))
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.TurnStarted()
	m.TurnEnded()
	m.ToolCallRecorded("write_file", "ok")
	m.ObserveEventWrite(time.Millisecond)
}
