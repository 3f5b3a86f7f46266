// Package notify implements the Notification Sinks:
// set of Event Bus subscribers that forward selected events to an
// external chat channel. It is purely additive (a supplemental
// Notification Subscription entity) — sinks never feed back into the
// Runtime, and a sink failure never blocks or slows the Event Bus.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/conductorhq/conductor/internal/events"
)

// Sink delivers a rendered text summary to one external chat target
// (a channel, chat, or conversation id — the meaning is sink-specific).
type Sink interface {
	Name() string
	Send(ctx context.Context, target, text string) error
}

// Rule is one NotificationRule: RunID empty matches
// every run; EventTypes matches by exact event type name.
type Rule struct {
	ID         string
	RunID      string
	EventTypes []events.Type
	SinkName   string
	Target     string
}

func (r Rule) matches(ev events.Event) bool {
	if r.RunID != "" && r.RunID != ev.RunID {
		return false
	}
	for _, t := range r.EventTypes {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Manager holds the configured sinks and rules and implements
// events.Subscriber, so it can be handed directly to a Run Store's (or
// Runtime's) per-run event bus via Subscribe/OnEvent.
type Manager struct {
	log *slog.Logger

	mu    sync.RWMutex
	sinks map[string]Sink
	rules []Rule

	metrics *Metrics
}

// NewManager creates an empty Manager. log receives sink failures; nil
// disables logging (tests).
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:     log,
		sinks:   make(map[string]Sink),
		metrics: newMetrics(),
	}
}

// RegisterSink adds (or replaces) a sink under its own Name().
func (m *Manager) RegisterSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[s.Name()] = s
}

// AddRule registers a NotificationRule. Rules are evaluated in
// registration order; every match fires independently (a single event
// may notify several sinks).
func (m *Manager) AddRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// RemoveRule drops the rule with the given id, if any.
func (m *Manager) RemoveRule(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.rules[:0]
	for _, r := range m.rules {
		if r.ID != id {
			out = append(out, r)
		}
	}
	m.rules = out
}

// Metrics returns the manager's Prometheus collectors, for a caller
// (cmd/conductord) to register with its own registry.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Rules returns a snapshot of the currently registered rules.
func (m *Manager) Rules() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// Handle implements events.Subscriber. It never blocks the Bus for
// long: each matching send runs on its own goroutine, and failures are
// logged and counted rather than retried or propagated.
func (m *Manager) Handle(ev events.Event) {
	m.mu.RLock()
	var matched []Rule
	for _, r := range m.rules {
		if r.matches(ev) {
			matched = append(matched, r)
		}
	}
	sinks := m.sinks
	m.mu.RUnlock()

	if len(matched) == 0 {
		return
	}
	text := render(ev)

	for _, r := range matched {
		sink, ok := sinks[r.SinkName]
		if !ok {
			continue
		}
		go m.deliver(sink, r.Target, text)
	}
}

func (m *Manager) deliver(sink Sink, target, text string) {
	ctx := context.Background()
	if err := sink.Send(ctx, target, text); err != nil {
		m.metrics.failures.WithLabelValues(sink.Name()).Inc()
		if m.log != nil {
			m.log.Error("notify: sink delivery failed", "sink", sink.Name(), "target", target, "error", err)
		}
		return
	}
	m.metrics.delivered.WithLabelValues(sink.Name()).Inc()
}

// render turns an event into a short human-readable summary. It only
// looks at the fields the three notified event types (run.stalled,
// approval.requested, run.completed — via run.patch with
// status=completed) actually carry; anything else falls back to a
// generic line so an unexpected rule configuration still sends
// something legible.
func render(ev events.Event) string {
	switch ev.Type {
	case events.TypeRunStalled:
		return fmt.Sprintf("⚠️ run %s stalled: %v", ev.RunID, ev.Fields["reason"])
	case events.TypeApprovalRequested:
		return fmt.Sprintf("🔒 run %s node %s requests approval for tool %v", ev.RunID, ev.NodeID, ev.Fields["tool"])
	case events.TypeRunPatch:
		if status, ok := ev.Fields["status"]; ok {
			return fmt.Sprintf("run %s status -> %v", ev.RunID, status)
		}
		return fmt.Sprintf("run %s updated", ev.RunID)
	default:
		return fmt.Sprintf("%s: run %s node %s", ev.Type, ev.RunID, ev.NodeID)
	}
}
