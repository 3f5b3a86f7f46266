package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/conductorhq/conductor/internal/events"
)

// BedrockConfig configures the AWS Bedrock api-transport adapter.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Model           string
	MaxTokens       int
	MaxRetries      int
	RetryDelay      time.Duration
}

// Bedrock is an api-transport Provider Adapter backed by
// aws-sdk-go-v2/service/bedrockruntime's Converse streaming API,
// grounded on the teacher's internal/agent/providers/bedrock.go client
// construction and ConverseStream event loop.
type Bedrock struct {
	BaseAdapter

	client    *bedrockruntime.Client
	model     string
	maxTokens int32

	sessionID string
	evCh      chan events.Event
	errCh     chan error
	cancel    context.CancelFunc
}

// NewBedrock constructs a Bedrock adapter from cfg.
func NewBedrock(ctx context.Context, cfg BedrockConfig) (*Bedrock, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	model := cfg.Model
	if model == "" {
		model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Bedrock{
		BaseAdapter: NewBaseAdapter("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		client:      bedrockruntime.NewFromConfig(awsCfg),
		model:       model,
		maxTokens:   int32(maxTokens),
		evCh:        make(chan events.Event, 64),
		errCh:       make(chan error, 4),
	}, nil
}

func (b *Bedrock) Transport() Transport { return TransportAPI }

func (b *Bedrock) Start(ctx context.Context) error {
	if b.sessionID == "" {
		b.sessionID = "bedrock-" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return nil
}

func (b *Bedrock) Close(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

func (b *Bedrock) Send(ctx context.Context, req SendRequest) error {
	turnCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(b.model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{MaxTokens: aws.Int32(b.maxTokens)},
	}

	go func() {
		var stream *bedrockruntime.ConverseStreamOutput
		err := b.Retry(turnCtx, isRetryableBedrockError, func() error {
			out, err := b.client.ConverseStream(turnCtx, converseReq)
			if err != nil {
				return err
			}
			stream = out
			return nil
		})
		if err != nil {
			b.errCh <- fmt.Errorf("bedrock: %w", err)
			return
		}

		eventStream := stream.GetStream()
		defer eventStream.Close()

		var final []byte
		for ev := range eventStream.Events() {
			if delta, ok := ev.(*types.ConverseStreamOutputMemberContentBlockDelta); ok {
				if textDelta, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					final = append(final, textDelta.Value...)
					b.evCh <- events.Event{Type: events.TypeAssistantDelta, Fields: map[string]any{"delta": textDelta.Value, "turnId": req.TurnID}}
				}
			}
		}
		if err := eventStream.Err(); err != nil {
			b.errCh <- fmt.Errorf("bedrock: stream: %w", err)
			return
		}
		b.evCh <- events.Event{Type: events.TypeAssistantFinal, Fields: map[string]any{"text": string(final), "turnId": req.TurnID}}
		b.evCh <- events.Event{Type: events.TypeNodePatch, Fields: map[string]any{"sessionId": b.sessionID}}
	}()
	return nil
}

func isRetryableBedrockError(err error) bool {
	if err == nil {
		return false
	}
	var throttling *types.ThrottlingException
	var internal *types.InternalServerException
	return asType(err, &throttling) || asType(err, &internal)
}

func asType[T error](err error, target *T) bool {
	for err != nil {
		if e, ok := err.(T); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (b *Bedrock) Interrupt(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

func (b *Bedrock) ResolveApproval(ctx context.Context, res ApprovalResolution) error { return nil }

func (b *Bedrock) ResetSession(ctx context.Context) error {
	b.sessionID = ""
	return b.Start(ctx)
}

func (b *Bedrock) SessionID() string    { return b.sessionID }
func (b *Bedrock) SupportsResume() bool { return false }

func (b *Bedrock) Events() <-chan events.Event { return b.evCh }
func (b *Bedrock) Errors() <-chan error        { return b.errCh }

var _ Adapter = (*Bedrock)(nil)
