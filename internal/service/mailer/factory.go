package mailer

import (
	"fmt"
	"log/slog"

	"github.com/templui/storeauth/internal/config"
)

// NewSender creates a mail transport based on configuration
func NewSender(cfg *config.Config) (Sender, error) {
	transport := cfg.EmailTransport

	slog.Info("initializing mail transport", "transport", transport)

	switch transport {
	case config.EmailTransportLog:
		return NewLogSender(), nil

	case config.EmailTransportResend:
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY is required when using resend transport")
		}
		return NewResendSender(cfg.ResendAPIKey, cfg.EmailFrom), nil

	case config.EmailTransportSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is required when using smtp transport")
		}
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom), nil

	case config.EmailTransportAMQP:
		if cfg.AMQPURL == "" {
			return nil, fmt.Errorf("AMQP_URL is required when using amqp transport")
		}
		return NewAMQPSender(cfg.AMQPURL, cfg.AMQPQueue)

	default:
		return nil, fmt.Errorf("unknown mail transport: %s (supported: log, resend, smtp, amqp)", transport)
	}
}
