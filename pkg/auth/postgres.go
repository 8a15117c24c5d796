package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore implements Store on PostgreSQL. All counter and token state
// transitions are single conditional statements, so they stay correct under
// concurrent requests without explicit locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, email, password_hash, totp_secret, totp_enabled, totp_last_step,
       azure_object_id, system_role, disabled,
       failed_password_attempts, password_locked_until,
       failed_totp_attempts, totp_locked_until,
       concurrency_key, created_at, updated_at`

// newConcurrencyKey generates the opaque 4-byte version stamp written on
// every mutating user update.
func newConcurrencyKey() []byte {
	key := make([]byte, 4)
	_, _ = rand.Read(key)
	return key
}

// GetUser retrieves a user by id
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

// GetUserByAzureObjectID retrieves the user linked to an Azure AD object id
func (s *PostgresStore) GetUserByAzureObjectID(ctx context.Context, objectID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE azure_object_id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, objectID))
}

// CreateUser inserts a new user record
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.SystemRole == "" {
		user.SystemRole = SystemRoleNormal
	}
	user.ConcurrencyKey = newConcurrencyKey()

	query := `
		INSERT INTO users (id, email, password_hash, totp_secret, totp_enabled, azure_object_id,
		                   system_role, disabled, concurrency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.TOTPSecret, user.TOTPEnabled,
		user.AzureObjectID, user.SystemRole, user.Disabled, user.ConcurrencyKey,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUser writes the admin-mutable fields guarded by the concurrency key.
// A stale key never silently overwrites: the current record is reloaded and
// returned inside a ConflictError.
func (s *PostgresStore) UpdateUser(ctx context.Context, user *User, expectedKey []byte) error {
	newKey := newConcurrencyKey()
	query := `
		UPDATE users
		SET email = $2, system_role = $3, disabled = $4, concurrency_key = $5, updated_at = NOW()
		WHERE id = $1 AND concurrency_key = $6
	`
	result, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.SystemRole, user.Disabled, newKey, expectedKey)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		current, err := s.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		return &ConflictError{Current: current}
	}
	user.ConcurrencyKey = newKey
	return nil
}

// HasAnyOrganizationRole reports whether the user holds a role above
// NoAccess in at least one organization.
func (s *PostgresStore) HasAnyOrganizationRole(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM organization_members WHERE user_id = $1 AND role > 0)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check organization roles: %w", err)
	}
	return exists, nil
}

// RecordPasswordFailure atomically increments the failed-password counter
// and sets the lockout timestamp when the new count crosses the threshold.
func (s *PostgresStore) RecordPasswordFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error) {
	query := `
		UPDATE users
		SET failed_password_attempts = failed_password_attempts + 1,
		    password_locked_until = CASE WHEN failed_password_attempts + 1 >= $2 THEN $3 ELSE password_locked_until END,
		    concurrency_key = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_password_attempts
	`
	var attempts int
	err := s.db.QueryRowContext(ctx, query, userID, threshold, lockUntil, newConcurrencyKey()).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record password failure: %w", err)
	}
	return attempts, nil
}

// RecordTOTPFailure atomically increments the failed-TOTP counter and sets
// the lockout timestamp when the new count crosses the threshold.
func (s *PostgresStore) RecordTOTPFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error) {
	query := `
		UPDATE users
		SET failed_totp_attempts = failed_totp_attempts + 1,
		    totp_locked_until = CASE WHEN failed_totp_attempts + 1 >= $2 THEN $3 ELSE totp_locked_until END,
		    concurrency_key = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING failed_totp_attempts
	`
	var attempts int
	err := s.db.QueryRowContext(ctx, query, userID, threshold, lockUntil, newConcurrencyKey()).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record totp failure: %w", err)
	}
	return attempts, nil
}

// ClearLockouts resets both failure counters and lockout timestamps
func (s *PostgresStore) ClearLockouts(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_password_attempts = 0, password_locked_until = NULL,
		    failed_totp_attempts = 0, totp_locked_until = NULL,
		    concurrency_key = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, userID, newConcurrencyKey()); err != nil {
		return fmt.Errorf("failed to clear lockouts: %w", err)
	}
	return nil
}

// AdvanceTOTPStep records acceptance of a time-step; the conditional write
// makes replays of an already accepted step report false.
func (s *PostgresStore) AdvanceTOTPStep(ctx context.Context, userID uuid.UUID, step int64) (bool, error) {
	query := `
		UPDATE users
		SET totp_last_step = $2, concurrency_key = $3, updated_at = NOW()
		WHERE id = $1 AND totp_last_step < $2
	`
	result, err := s.db.ExecContext(ctx, query, userID, step, newConcurrencyKey())
	if err != nil {
		return false, fmt.Errorf("failed to advance totp step: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetPendingTOTPSecret stores a freshly generated secret prior to enrollment
func (s *PostgresStore) SetPendingTOTPSecret(ctx context.Context, userID uuid.UUID, secret []byte) error {
	query := `
		UPDATE users SET totp_secret = $2, concurrency_key = $3, updated_at = NOW()
		WHERE id = $1 AND totp_enabled = FALSE
	`
	if _, err := s.db.ExecContext(ctx, query, userID, secret, newConcurrencyKey()); err != nil {
		return fmt.Errorf("failed to set pending totp secret: %w", err)
	}
	return nil
}

// EnableTOTP flips the enabled flag; returns false if already enabled
func (s *PostgresStore) EnableTOTP(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		UPDATE users SET totp_enabled = TRUE, concurrency_key = $2, updated_at = NOW()
		WHERE id = $1 AND totp_enabled = FALSE
	`
	result, err := s.db.ExecContext(ctx, query, userID, newConcurrencyKey())
	if err != nil {
		return false, fmt.Errorf("failed to enable totp: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DisableTOTP turns TOTP off and discards the secret and counters
func (s *PostgresStore) DisableTOTP(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET totp_enabled = FALSE, totp_secret = NULL, totp_last_step = 0,
		    failed_totp_attempts = 0, totp_locked_until = NULL,
		    concurrency_key = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, userID, newConcurrencyKey()); err != nil {
		return fmt.Errorf("failed to disable totp: %w", err)
	}
	return nil
}

// SetPassword replaces the password hash
func (s *PostgresStore) SetPassword(ctx context.Context, userID uuid.UUID, hash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_password_attempts = 0, password_locked_until = NULL,
		    concurrency_key = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, userID, hash, newConcurrencyKey()); err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	return nil
}

// SetAzureObjectID binds an Azure AD object id to the account
func (s *PostgresStore) SetAzureObjectID(ctx context.Context, userID uuid.UUID, objectID string) error {
	query := `
		UPDATE users SET azure_object_id = $2, concurrency_key = $3, updated_at = NOW()
		WHERE id = $1 AND azure_object_id IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, userID, objectID, newConcurrencyKey()); err != nil {
		return fmt.Errorf("failed to set azure object id: %w", err)
	}
	return nil
}

// UpsertToken replaces any prior token row for the (user, purpose) pair
func (s *PostgresStore) UpsertToken(ctx context.Context, token *OneTimeToken) error {
	query := `
		INSERT INTO one_time_tokens (user_id, purpose, token_hash, metadata, issued_at, expires_at, consumed, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE)
		ON CONFLICT (user_id, purpose)
		DO UPDATE SET token_hash = EXCLUDED.token_hash, metadata = EXCLUDED.metadata,
		              issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at,
		              consumed = FALSE, revoked = FALSE
	`
	_, err := s.db.ExecContext(ctx, query,
		token.UserID, token.Purpose, token.TokenHash, token.Metadata, token.IssuedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert token: %w", err)
	}
	return nil
}

// ConsumeToken transitions the pending, unexpired row with the given hash
// to consumed. The conditional update is the linearization point: two
// concurrent consumers of the same token cannot both see a row transition.
func (s *PostgresStore) ConsumeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (*OneTimeToken, error) {
	query := `
		UPDATE one_time_tokens SET consumed = TRUE
		WHERE user_id = $1 AND purpose = $2 AND token_hash = $3
		  AND consumed = FALSE AND revoked = FALSE AND expires_at > $4
		RETURNING metadata, issued_at, expires_at
	`
	token := &OneTimeToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		Consumed:  true,
	}
	err := s.db.QueryRowContext(ctx, query, userID, purpose, tokenHash, now).
		Scan(&token.Metadata, &token.IssuedAt, &token.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	return token, nil
}

// PeekToken reports whether a pending, unexpired row with the hash exists
func (s *PostgresStore) PeekToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM one_time_tokens
			WHERE user_id = $1 AND purpose = $2 AND token_hash = $3
			  AND consumed = FALSE AND revoked = FALSE AND expires_at > $4
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, purpose, tokenHash, now).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return exists, nil
}

// RevokeToken transitions a pending row to revoked
func (s *PostgresStore) RevokeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string) (bool, error) {
	query := `
		UPDATE one_time_tokens SET revoked = TRUE
		WHERE user_id = $1 AND purpose = $2 AND token_hash = $3
		  AND consumed = FALSE AND revoked = FALSE
	`
	result, err := s.db.ExecContext(ctx, query, userID, purpose, tokenHash)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// CreateSession inserts a session row
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.IssuedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash looks up a live session by its token hash
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	query := `
		SELECT id, user_id, token_hash, issued_at, expires_at, revoked_at
		FROM sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`
	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&session.ID, &session.UserID, &session.TokenHash,
		&session.IssuedAt, &session.ExpiresAt, &session.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// RevokeSession marks a session revoked
func (s *PostgresStore) RevokeSession(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// GetOrganizationRole returns the user's role in the organization, or
// NoAccess when no assignment exists.
func (s *PostgresStore) GetOrganizationRole(ctx context.Context, userID, organizationID uuid.UUID) (Role, error) {
	query := `SELECT role FROM organization_members WHERE user_id = $1 AND organization_id = $2`
	var role int
	err := s.db.QueryRowContext(ctx, query, userID, organizationID).Scan(&role)
	if err == sql.ErrNoRows {
		return RoleNoAccess, nil
	}
	if err != nil {
		return RoleNoAccess, fmt.Errorf("failed to get organization role: %w", err)
	}
	if role < 0 {
		return RoleNoAccess, fmt.Errorf("invalid stored role %d", role)
	}
	return Role(role), nil
}

// HasBuildingGrant reports whether the user has an explicit building grant
func (s *PostgresStore) HasBuildingGrant(ctx context.Context, userID, buildingID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM building_access WHERE user_id = $1 AND building_id = $2)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID, buildingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check building grant: %w", err)
	}
	return exists, nil
}

// DeleteExpiredTokens removes expired one-time tokens
func (s *PostgresStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// DeleteExpiredSessions removes expired sessions
func (s *PostgresStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var passwordHash, azureObjectID sql.NullString
	var passwordLockedUntil, totpLockedUntil sql.NullTime

	err := row.Scan(
		&user.ID, &user.Email, &passwordHash, &user.TOTPSecret, &user.TOTPEnabled, &user.TOTPLastStep,
		&azureObjectID, &user.SystemRole, &user.Disabled,
		&user.FailedPasswordAttempts, &passwordLockedUntil,
		&user.FailedTOTPAttempts, &totpLockedUntil,
		&user.ConcurrencyKey, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	if azureObjectID.Valid {
		user.AzureObjectID = &azureObjectID.String
	}
	if passwordLockedUntil.Valid {
		t := passwordLockedUntil.Time
		user.PasswordLockedUntil = &t
	}
	if totpLockedUntil.Valid {
		t := totpLockedUntil.Time
		user.TOTPLockedUntil = &t
	}
	return user, nil
}
