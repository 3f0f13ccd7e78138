package mailer

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them (development).
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "email sent (dev mode)",
		"type", msg.Kind,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

func (s *LogSender) Name() string {
	return "log"
}
