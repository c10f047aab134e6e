package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrChannelDisabled is returned by channels whose configuration is missing.
var ErrChannelDisabled = errors.New("alert channel disabled")

// Settings selects and configures the notifiers.
type Settings struct {
	Channels   []string
	Email      EmailConfig
	SlackURL   string
	WebhookURL string
}

// NewNotifiers builds one notifier per configured channel. Channels whose
// required settings are missing are built disabled so startup never fails
// on them; their failed deliveries show up in the alert history.
func NewNotifiers(s Settings, logger *slog.Logger) ([]Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: 10 * time.Second}

	var out []Notifier
	seen := map[string]bool{}
	for _, ch := range s.Channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		switch ch {
		case ChannelLog:
			out = append(out, NewLogNotifier(logger))
		case ChannelEmail:
			if missing := s.Email.missing(); len(missing) > 0 {
				reason := strings.Join(missing, ", ") + " not set"
				logger.Warn("alert channel disabled", "channel", ch, "reason", reason)
				out = append(out, NewDisabledNotifier(ch, reason))
				continue
			}
			out = append(out, NewEmailNotifier(s.Email))
		case ChannelSlack:
			if s.SlackURL == "" {
				logger.Warn("alert channel disabled", "channel", ch, "reason", "SLACK_WEBHOOK_URL is not set")
				out = append(out, NewDisabledNotifier(ch, "SLACK_WEBHOOK_URL is not set"))
				continue
			}
			out = append(out, NewSlackNotifier(s.SlackURL, client))
		case ChannelJSON:
			if s.WebhookURL == "" {
				logger.Warn("alert channel disabled", "channel", ch, "reason", "GENERIC_WEBHOOK_URL is not set")
				out = append(out, NewDisabledNotifier(ch, "GENERIC_WEBHOOK_URL is not set"))
				continue
			}
			out = append(out, NewWebhookNotifier(s.WebhookURL, client))
		default:
			return nil, fmt.Errorf("unknown alert channel %q", ch)
		}
	}
	return out, nil
}

// --- log ---

// LogNotifier writes alerts to the structured log at a level matching the
// severity.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return ChannelLog }

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	switch msg.Severity {
	case Warning:
		level = slog.LevelWarn
	case Error, Critical:
		level = slog.LevelError
	}
	n.logger.Log(ctx, level, "ALERT "+msg.Title,
		"id", msg.ID, "rule", msg.Rule, "severity", msg.Severity, "source", msg.Source,
		"message", msg.Body, "context", msg.Context)
	return nil
}

// --- disabled ---

// DisabledNotifier stands in for a channel that is enabled but not
// configured.
type DisabledNotifier struct {
	name   string
	reason string
}

// NewDisabledNotifier returns a notifier that always fails with reason.
func NewDisabledNotifier(name, reason string) *DisabledNotifier {
	return &DisabledNotifier{name: name, reason: reason}
}

func (n *DisabledNotifier) Name() string { return n.name }

func (n *DisabledNotifier) Send(context.Context, Message) error {
	return fmt.Errorf("%w: %s: %s", ErrChannelDisabled, n.name, n.reason)
}
