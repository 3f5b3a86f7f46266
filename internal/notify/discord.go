package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the subset of *discordgo.Session the DiscordSink
// uses, narrowed for fake injection in tests — matching the teacher's
// internal/channels/discord adapter's own DiscordSession seam.
type discordSession interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink forwards rendered event summaries to a Discord channel.
type DiscordSink struct {
	session discordSession
}

// NewDiscordSink opens a bot session for token. The session is not
// started as a full gateway connection (no message receiving, no
// intents) since Notification Sinks are send-only.
func NewDiscordSink(token string) (*DiscordSink, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: opening discord session: %w", err)
	}
	return &DiscordSink{session: dg}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Send(ctx context.Context, target, text string) error {
	_, err := s.session.ChannelMessageSend(target, text)
	return err
}
