package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/templui/storeauth/internal/service/mailer"
)

type EmailService struct {
	sender  mailer.Sender
	appURL  string
	appName string
}

func NewEmailService(sender mailer.Sender, appURL, appName string) *EmailService {
	return &EmailService{
		sender:  sender,
		appURL:  appURL,
		appName: appName,
	}
}

func (s *EmailService) SendVerificationEmail(ctx context.Context, email, token, username string, ttl time.Duration) error {
	verifyURL := fmt.Sprintf("%s/auth/verify-email/%s", s.appURL, url.PathEscape(token))
	subject, body := verificationEmailTemplate(username, verifyURL, humanDuration(ttl), s.appName)
	return s.send(ctx, "verification", email, subject, body)
}

func (s *EmailService) SendPasswordResetEmail(ctx context.Context, email, token, username string, ttl time.Duration) error {
	resetURL := fmt.Sprintf("%s/auth/reset-password?token=%s", s.appURL, url.QueryEscape(token))
	subject, body := passwordResetEmailTemplate(username, resetURL, humanDuration(ttl), s.appName)
	return s.send(ctx, "password_reset", email, subject, body)
}

func (s *EmailService) SendPasswordChangedEmail(ctx context.Context, email, username string) error {
	subject, body := passwordChangedEmailTemplate(username, s.appName)
	return s.send(ctx, "password_changed", email, subject, body)
}

func (s *EmailService) SendAccountSuspendedEmail(ctx context.Context, email, username string) error {
	subject, body := accountSuspendedEmailTemplate(username, s.appName)
	return s.send(ctx, "account_suspended", email, subject, body)
}

func (s *EmailService) send(ctx context.Context, kind, to, subject, body string) error {
	err := s.sender.Send(ctx, mailer.Message{
		Kind:    kind,
		To:      to,
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("send %s email via %s: %w", kind, s.sender.Name(), err)
	}
	slog.InfoContext(ctx, "email sent", "type", kind, "to", to, "transport", s.sender.Name())
	return nil
}
