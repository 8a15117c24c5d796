// Package audit provides the audit-log sink used by the authentication and
// authorization core. Every credential-check outcome and gate denial is
// recorded with the requester's IP address.
package audit

import (
	"context"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NoopLogger discards all events; used when no sink is configured
type NoopLogger struct{}

// Log discards the event
func (NoopLogger) Log(ctx context.Context, event *Event) error { return nil }

// Close is a no-op
func (NoopLogger) Close() error { return nil }

type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, falling back to a noop
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}
