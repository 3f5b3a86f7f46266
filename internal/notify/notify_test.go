package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/conductorhq/conductor/internal/events"
)

type fakeSink struct {
	name string
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(ctx context.Context, target, text string) error {
	if f.fail {
		return errFake
	}
	f.mu.Lock()
	f.sent = append(f.sent, target+":"+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeErr struct{}

func (fakeErr) Error() string { return "fake sink failure" }

var errFake = fakeErr{}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}

func TestManagerDeliversMatchingRuleToConfiguredSink(t *testing.T) {
	m := NewManager(nil)
	sink := &fakeSink{name: "discord"}
	m.RegisterSink(sink)
	m.AddRule(Rule{
		ID:         "r1",
		EventTypes: []events.Type{events.TypeRunStalled},
		SinkName:   "discord",
		Target:     "chan-1",
	})

	m.Handle(events.New("run-1", "", events.TypeRunStalled, map[string]any{"reason": "repeated output"}))

	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })
	got := sink.snapshot()[0]
	if got == "" {
		t.Fatalf("expected a delivered message")
	}
}

func TestManagerIgnoresNonMatchingEventType(t *testing.T) {
	m := NewManager(nil)
	sink := &fakeSink{name: "slack"}
	m.RegisterSink(sink)
	m.AddRule(Rule{ID: "r1", EventTypes: []events.Type{events.TypeRunStalled}, SinkName: "slack", Target: "c1"})

	m.Handle(events.New("run-1", "", events.TypeAssistantDelta, nil))

	time.Sleep(20 * time.Millisecond)
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expected no delivery for unmatched event type")
	}
}

func TestManagerScopesRuleToRunID(t *testing.T) {
	m := NewManager(nil)
	sink := &fakeSink{name: "telegram"}
	m.RegisterSink(sink)
	m.AddRule(Rule{ID: "r1", RunID: "run-a", EventTypes: []events.Type{events.TypeRunStalled}, SinkName: "telegram", Target: "123"})

	m.Handle(events.New("run-b", "", events.TypeRunStalled, nil))
	time.Sleep(20 * time.Millisecond)
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expected no delivery for a run outside the rule's scope")
	}

	m.Handle(events.New("run-a", "", events.TypeRunStalled, nil))
	waitFor(t, func() bool { return len(sink.snapshot()) == 1 })
}

func TestManagerCountsFailuresWithoutBlocking(t *testing.T) {
	m := NewManager(nil)
	sink := &fakeSink{name: "discord", fail: true}
	m.RegisterSink(sink)
	m.AddRule(Rule{ID: "r1", EventTypes: []events.Type{events.TypeApprovalRequested}, SinkName: "discord", Target: "c1"})

	m.Handle(events.New("run-1", "node-1", events.TypeApprovalRequested, map[string]any{"tool": "command"}))

	waitFor(t, func() bool {
		return testutil.ToFloat64(m.metrics.failures.WithLabelValues("discord")) == 1
	})
}

func TestRemoveRuleStopsFutureDelivery(t *testing.T) {
	m := NewManager(nil)
	sink := &fakeSink{name: "slack"}
	m.RegisterSink(sink)
	m.AddRule(Rule{ID: "r1", EventTypes: []events.Type{events.TypeRunStalled}, SinkName: "slack", Target: "c1"})
	m.RemoveRule("r1")

	m.Handle(events.New("run-1", "", events.TypeRunStalled, nil))
	time.Sleep(20 * time.Millisecond)
	if len(sink.snapshot()) != 0 {
		t.Fatalf("expected no delivery after rule removal")
	}
}
