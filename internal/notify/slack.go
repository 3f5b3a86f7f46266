package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// slackClient is the subset of *slack.Client the SlackSink uses,
// narrowed for fake injection in tests — matching the teacher's
// internal/channels/slack.SlackAPIClient seam.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSink forwards rendered event summaries to a Slack channel.
type SlackSink struct {
	client slackClient
}

// NewSlackSink builds a sink from a bot token.
func NewSlackSink(token string) *SlackSink {
	return &SlackSink{client: slack.New(token)}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, target, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, target, slack.MsgOptionText(text, false))
	return err
}
