// Package notify provides the outbound email collaborator used for
// token-bearing links (forgot password, disable 2FA, account linking).
package notify

import (
	"context"
	"log/slog"
)

// Message is a single outbound email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers outbound messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log instead of delivering
// them; used in development and tests.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the message
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outbound email suppressed",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
