package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot"

	"github.com/conductorhq/conductor/internal/domain"
)

// TelegramSink forwards rendered event summaries to a Telegram chat.
// target is the chat id, formatted as a decimal string.
type TelegramSink struct {
	b *bot.Bot
}

// NewTelegramSink starts a bot client for token. It is never started in
// polling or webhook mode — Notification Sinks only send.
func NewTelegramSink(token string) (*TelegramSink, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("notify: opening telegram bot: %w", err)
	}
	return &TelegramSink{b: b}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, target, text string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return domain.NewValidationError("telegram target %q is not a chat id: %v", target, err)
	}
	_, err = s.b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}
