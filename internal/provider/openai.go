package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conductorhq/conductor/internal/events"
)

// OpenAIConfig configures the OpenAI api-transport adapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAI is an api-transport Provider Adapter backed by
// sashabaranov/go-openai, grounded on the teacher's
// internal/agent/providers/openai.go client construction and its
// CreateChatCompletionStream/stream.Recv loop.
type OpenAI struct {
	BaseAdapter

	client    *openai.Client
	model     string
	maxTokens int

	sessionID string
	evCh      chan events.Event
	errCh     chan error
	cancel    context.CancelFunc
}

// NewOpenAI constructs an OpenAI adapter from cfg.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		BaseAdapter: NewBaseAdapter("openai", cfg.MaxRetries, cfg.RetryDelay),
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		maxTokens:   maxTokens,
		evCh:        make(chan events.Event, 64),
		errCh:       make(chan error, 4),
	}, nil
}

func (o *OpenAI) Transport() Transport { return TransportAPI }

func (o *OpenAI) Start(ctx context.Context) error {
	if o.sessionID == "" {
		o.sessionID = "openai-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return nil
}

func (o *OpenAI) Close(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	return nil
}

func (o *OpenAI) Send(ctx context.Context, req SendRequest) error {
	turnCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	chatReq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: o.maxTokens,
		Stream:    true,
	}

	go func() {
		err := o.Retry(turnCtx, isRetryableOpenAIError, func() error {
			stream, err := o.client.CreateChatCompletionStream(turnCtx, chatReq)
			if err != nil {
				return err
			}
			defer stream.Close()

			var final []byte
			for {
				resp, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				if len(resp.Choices) == 0 {
					continue
				}
				delta := resp.Choices[0].Delta.Content
				if delta != "" {
					final = append(final, delta...)
					o.evCh <- events.Event{Type: events.TypeAssistantDelta, Fields: map[string]any{"delta": delta, "turnId": req.TurnID}}
				}
			}
			o.evCh <- events.Event{Type: events.TypeAssistantFinal, Fields: map[string]any{"text": string(final), "turnId": req.TurnID}}
			o.evCh <- events.Event{Type: events.TypeNodePatch, Fields: map[string]any{"sessionId": o.sessionID}}
			return nil
		})
		if err != nil {
			o.errCh <- fmt.Errorf("openai: %w", err)
		}
	}()
	return nil
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}

func (o *OpenAI) Interrupt(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	return nil
}

func (o *OpenAI) ResolveApproval(ctx context.Context, res ApprovalResolution) error { return nil }

func (o *OpenAI) ResetSession(ctx context.Context) error {
	o.sessionID = ""
	return o.Start(ctx)
}

func (o *OpenAI) SessionID() string    { return o.sessionID }
func (o *OpenAI) SupportsResume() bool { return false }

func (o *OpenAI) Events() <-chan events.Event { return o.evCh }
func (o *OpenAI) Errors() <-chan error        { return o.errCh }

var _ Adapter = (*OpenAI)(nil)
