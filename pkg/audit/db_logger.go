package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log writes an audit event row
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO audit_logs (timestamp, event_type, status, user_id, email, organization_id,
		                        resource_type, resource_id, ip_address, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp,
		event.EventType,
		event.Status,
		event.UserID,
		nullString(event.Email),
		event.OrganizationID,
		nullString(event.ResourceType),
		nullString(event.ResourceID),
		nullString(event.IPAddress),
		nullString(event.Message),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the logger (the shared DB handle is owned by the caller)
func (l *DBLogger) Close() error { return nil }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
