package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/directline-io/directline/internal/notify"
)

// Config holds Telegram notifier configuration.
type Config struct {
	Token    string  // Bot token from @BotFather
	ChatIDs  []int64 // staff chats that receive alerts
	Endpoint string  // optional API endpoint format, for tests
}

// Notifier sends alerts to one or more Telegram chats.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatIDs []int64
	logger  *slog.Logger
}

// New creates a new Telegram notifier. It calls getMe to verify the token.
func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if len(cfg.ChatIDs) == 0 {
		return nil, fmt.Errorf("telegram: at least one chat id is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatIDs: cfg.ChatIDs,
		logger:  logger,
	}, nil
}

func (n *Notifier) Name() string { return "telegram" }

// Notify sends the alert to every configured chat.
func (n *Notifier) Notify(_ context.Context, a notify.Alert) error {
	text := Format(a)
	var failed []string
	for _, id := range n.chatIDs {
		msg := tgbotapi.NewMessage(id, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn("telegram send failed", "chat_id", id, "error", err)
			failed = append(failed, fmt.Sprint(id))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("telegram: send failed for chats %s", strings.Join(failed, ", "))
	}
	return nil
}

// Format renders an alert in Telegram's HTML subset.
func Format(a notify.Alert) string {
	var b strings.Builder
	if a.Level == notify.LevelUrgent {
		b.WriteString("🚨 ")
	}
	b.WriteString("<b>" + html.EscapeString(a.Title) + "</b>")
	if a.Text != "" {
		b.WriteString("\n" + html.EscapeString(a.Text))
	}
	if a.ConsultationID != "" {
		b.WriteString("\n<code>" + html.EscapeString(a.ConsultationID) + "</code>")
	}
	if a.Category != "" {
		b.WriteString(" · " + html.EscapeString(a.Category))
	}
	return b.String()
}
