package notification

import (
	"context"
	"log/slog"
)

// Message is one rendered email.
type Message struct {
	From      string
	To        string
	Subject   string
	Body      string
	ActionURL string
}

// Mailer delivers a rendered message. SMTP and provider integrations live
// behind this interface.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "Email sent",
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"action_url", msg.ActionURL)

	return nil
}
