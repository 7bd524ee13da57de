package slacknotify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/directline-io/directline/internal/notify"
)

// Config holds Slack notifier configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	Channel  string // channel ID alerts are posted to
	APIURL   string // optional, for tests
}

// Notifier posts alerts to a Slack channel.
type Notifier struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// New creates a new Slack notifier. No request is made until the first alert.
func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		u := cfg.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}

	return &Notifier{
		api:     slack.New(cfg.BotToken, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

func (n *Notifier) Name() string { return "slack" }

// Notify posts the alert as a colored attachment.
func (n *Notifier) Notify(ctx context.Context, a notify.Alert) error {
	att := slack.Attachment{
		Color:    color(a),
		Title:    a.Title,
		Text:     a.Text,
		Fallback: a.Title + ": " + a.Text,
	}
	if a.ConsultationID != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Consultation", Value: a.ConsultationID, Short: true})
	}
	if a.Category != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Category", Value: a.Category, Short: true})
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(escape(a.Title), false),
		slack.MsgOptionAttachments(att),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	n.logger.Debug("slack alert posted", "channel", n.channel, "ts", ts)
	return nil
}

func color(a notify.Alert) string {
	if a.Level == notify.LevelUrgent {
		return "danger"
	}
	return "#439FE0"
}

// escape applies the mrkdwn control character escaping Slack requires.
func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
