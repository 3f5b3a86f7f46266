package config

import (
	"fmt"
	"log/slog"

	"github.com/conductorhq/conductor/internal/events"
	"github.com/conductorhq/conductor/internal/notify"
)

// BuildNotifyManager turns the notifications.<name> table into a
// notify.Manager: one sink per distinct sink type (built from the Token
// of one entry that names it; entries are visited in map order, so which
// entry's Token is used when several differ is not defined) plus one
// notify.Rule per entry.
func (c *Config) BuildNotifyManager(log *slog.Logger) (*notify.Manager, error) {
	m := notify.NewManager(log)

	tokens := map[string]string{}
	for _, n := range c.Notifications {
		if _, ok := tokens[n.Sink]; !ok && n.Token != "" {
			tokens[n.Sink] = n.Token
		}
	}

	for sinkName, token := range tokens {
		sink, err := buildSink(sinkName, token)
		if err != nil {
			return nil, fmt.Errorf("config: building %s notification sink: %w", sinkName, err)
		}
		m.RegisterSink(sink)
	}

	for id, n := range c.Notifications {
		m.AddRule(notify.Rule{
			ID:         id,
			RunID:      n.RunID,
			EventTypes: toEventTypes(n.EventTypes),
			SinkName:   n.Sink,
			Target:     n.Target,
		})
	}
	return m, nil
}

func buildSink(name, token string) (notify.Sink, error) {
	switch name {
	case "discord":
		return notify.NewDiscordSink(token)
	case "slack":
		return notify.NewSlackSink(token), nil
	case "telegram":
		return notify.NewTelegramSink(token)
	default:
		return nil, fmt.Errorf("unknown sink %q", name)
	}
}

func toEventTypes(names []string) []events.Type {
	out := make([]events.Type, len(names))
	for i, n := range names {
		out[i] = events.Type(n)
	}
	return out
}
