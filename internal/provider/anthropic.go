package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conductorhq/conductor/internal/events"
)

// AnthropicConfig configures the Anthropic api-transport adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// Anthropic is an api-transport Provider Adapter backed by
// anthropics/anthropic-sdk-go, grounded on the teacher's
// internal/agent/providers/anthropic.go client construction and
// streaming conversion pattern, narrowed to the canonical event set this
// Runtime needs (it has no tool-call or computer-use surface of its
// own — the Tool Executor owns tool dispatch, not the adapter).
type Anthropic struct {
	BaseAdapter

	client    anthropic.Client
	model     string
	maxTokens int64

	sessionID string

	evCh  chan events.Event
	errCh chan error

	cancel context.CancelFunc
}

// NewAnthropic constructs an Anthropic adapter from cfg.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Anthropic{
		BaseAdapter: NewBaseAdapter("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		evCh:        make(chan events.Event, 64),
		errCh:       make(chan error, 4),
	}, nil
}

func (a *Anthropic) Transport() Transport { return TransportAPI }

func (a *Anthropic) Start(ctx context.Context) error {
	if a.sessionID == "" {
		a.sessionID = "anthropic-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return nil
}

func (a *Anthropic) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Anthropic) Send(ctx context.Context, req SendRequest) error {
	turnCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	go func() {
		var lastErr error
		err := a.Retry(turnCtx, isRetryableAnthropicError, func() error {
			stream := a.client.Messages.NewStreaming(turnCtx, params)
			var final strings.Builder
			for stream.Next() {
				event := stream.Current()
				switch delta := event.AsAny().(type) {
				case anthropic.ContentBlockDeltaEvent:
					if delta.Delta.Text != "" {
						final.WriteString(delta.Delta.Text)
						a.evCh <- events.Event{Type: events.TypeAssistantDelta, Fields: map[string]any{"delta": delta.Delta.Text, "turnId": req.TurnID}}
					}
				}
			}
			if err := stream.Err(); err != nil {
				lastErr = err
				return err
			}
			a.evCh <- events.Event{Type: events.TypeAssistantFinal, Fields: map[string]any{"text": final.String(), "turnId": req.TurnID}}
			a.evCh <- events.Event{Type: events.TypeNodePatch, Fields: map[string]any{"sessionId": a.sessionID}}
			return nil
		})
		if err != nil {
			a.errCh <- fmt.Errorf("anthropic: %w", err)
		}
		_ = lastErr
	}()
	return nil
}

// isRetryableAnthropicError treats rate-limit and server-error responses
// as transient. The SDK surfaces these with the status code embedded in
// the error string (per anthropic-sdk-go's *anthropic.Error.Error()),
// so a substring check avoids depending on internal error field layout.
func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "529")
}

func (a *Anthropic) Interrupt(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Anthropic) ResolveApproval(ctx context.Context, res ApprovalResolution) error {
	// The Anthropic API has no native approval surface; approvals are
	// handled entirely by the Tool Executor.
	return nil
}

func (a *Anthropic) ResetSession(ctx context.Context) error {
	a.sessionID = ""
	return a.Start(ctx)
}

func (a *Anthropic) SessionID() string    { return a.sessionID }
func (a *Anthropic) SupportsResume() bool { return false }

func (a *Anthropic) Events() <-chan events.Event { return a.evCh }
func (a *Anthropic) Errors() <-chan error        { return a.errCh }

var _ Adapter = (*Anthropic)(nil)
