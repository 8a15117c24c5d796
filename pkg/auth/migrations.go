package auth

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the credential-store tables if they do not exist.
// The schema is the logical shape only; production deployments manage
// migrations out of band.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(254) NOT NULL UNIQUE,
			password_hash TEXT,
			totp_secret BYTEA,
			totp_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			totp_last_step BIGINT NOT NULL DEFAULT 0,
			azure_object_id VARCHAR(64),
			system_role VARCHAR(10) NOT NULL DEFAULT 'normal',
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			failed_password_attempts INTEGER NOT NULL DEFAULT 0,
			password_locked_until TIMESTAMP WITH TIME ZONE,
			failed_totp_attempts INTEGER NOT NULL DEFAULT 0,
			totp_locked_until TIMESTAMP WITH TIME ZONE,
			concurrency_key BYTEA NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_lower ON users(lower(email))`,
		`CREATE TABLE IF NOT EXISTS one_time_tokens (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			purpose VARCHAR(30) NOT NULL,
			token_hash VARCHAR(64) NOT NULL,
			metadata TEXT NOT NULL DEFAULT '',
			issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			consumed BOOLEAN NOT NULL DEFAULT FALSE,
			revoked BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, purpose)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash VARCHAR(64) NOT NULL UNIQUE,
			issued_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
			revoked_at TIMESTAMP WITH TIME ZONE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS organization_members (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			organization_id UUID NOT NULL,
			role SMALLINT NOT NULL DEFAULT 0 CHECK (role >= 0),
			added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, organization_id)
		)`,
		`CREATE TABLE IF NOT EXISTS building_access (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			building_id UUID NOT NULL,
			granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, building_id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run auth migration: %w", err)
		}
	}
	return nil
}
