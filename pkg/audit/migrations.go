package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the audit_logs table if it does not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			event_type VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			user_id UUID,
			email VARCHAR(254),
			organization_id UUID,
			resource_type VARCHAR(64),
			resource_id VARCHAR(128),
			ip_address VARCHAR(45),
			message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_user_time ON audit_logs (user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs (event_type, timestamp)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run audit migration: %w", err)
		}
	}
	return nil
}
