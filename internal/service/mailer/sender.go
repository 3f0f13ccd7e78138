package mailer

import "context"

// Message is a plain-text transactional email.
type Message struct {
	Kind    string `json:"kind"` // "verification", "password_reset", ...
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Sender defines the interface that all mail transports must implement
type Sender interface {
	// Send delivers or enqueues msg
	Send(ctx context.Context, msg Message) error

	// Name returns the transport name (e.g., "resend", "smtp")
	Name() string
}
