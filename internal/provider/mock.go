package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/events"
)

// EchoFunc computes the mock adapter's final assistant text for a given
// prompt. The default (used when NewMock gets a nil EchoFunc) echoes the
// prompt's last non-empty line, trimmed, whichever block it belongs to
// ("system\n\nhello" in, "hello" out).
type EchoFunc func(prompt string) string

// Mock is a deterministic in-process Adapter used by tests and local
// development, written against it instead of a real subprocess or HTTP
// provider.
type Mock struct {
	BaseAdapter

	mu        sync.Mutex
	sessionID string
	started   bool

	echo EchoFunc

	evCh  chan events.Event
	errCh chan error
}

// NewMock creates a mock adapter. If echo is nil, the prompt's final
// non-empty line is echoed back verbatim.
func NewMock(name string, echo EchoFunc) *Mock {
	if echo == nil {
		echo = defaultEcho
	}
	return &Mock{
		BaseAdapter: NewBaseAdapter(name, 1, 0),
		echo:        echo,
		evCh:        make(chan events.Event, 64),
		errCh:       make(chan error, 4),
	}
}

func defaultEcho(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

func (m *Mock) Transport() Transport { return TransportAPI }

func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.sessionID = uuid.NewString()
		m.started = true
	}
	return nil
}

func (m *Mock) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

func (m *Mock) Send(ctx context.Context, req SendRequest) error {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	text := m.echo(req.Prompt)

	// Stream the text back word by word to exercise delta handling.
	words := strings.Fields(text)
	if len(words) == 0 {
		words = []string{text}
	}
	go func() {
		for i, w := range words {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			m.evCh <- events.Event{Type: events.TypeAssistantDelta, Fields: map[string]any{"delta": delta, "turnId": req.TurnID}}
		}
		m.evCh <- events.Event{Type: events.TypeAssistantFinal, Fields: map[string]any{"text": text, "turnId": req.TurnID}}
		m.evCh <- events.Event{Type: events.TypeNodePatch, Fields: map[string]any{"sessionId": sessionID}}
	}()
	return nil
}

func (m *Mock) Interrupt(ctx context.Context) error { return nil }

func (m *Mock) ResolveApproval(ctx context.Context, res ApprovalResolution) error { return nil }

func (m *Mock) ResetSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = uuid.NewString()
	return nil
}

func (m *Mock) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Mock) SupportsResume() bool { return true }

func (m *Mock) Events() <-chan events.Event { return m.evCh }
func (m *Mock) Errors() <-chan error        { return m.errCh }

var _ Adapter = (*Mock)(nil)

// NewMockFixed is a convenience constructor for tests needing a fixed
// response regardless of the prompt (e.g. the stall-detection scenario,
// which forces the same "stuck" output across turns).
func NewMockFixed(name, text string) *Mock {
	return NewMock(name, func(string) string { return text })
}
