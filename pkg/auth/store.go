package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ConflictError is returned when a guarded update presents a stale
// concurrency key. Current carries the server-side record so the caller
// can reconcile; the stored record is left unchanged.
type ConflictError struct {
	Current *User
}

func (e *ConflictError) Error() string {
	return "concurrency key mismatch"
}

// Store is the credential store: users, lockout counters, one-time tokens,
// sessions, and the role/grant tables the resolver reads.
//
// Every multi-field mutation is a single statement (or transaction) so a
// cancelled request never leaves a half-applied write. ConsumeToken and the
// failure counters are conditional updates, safe under concurrent requests.
type Store interface {
	// Users
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAzureObjectID(ctx context.Context, objectID string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	// UpdateUser writes the admin-mutable fields (email, system role,
	// disabled flag) guarded by the caller's concurrency key.
	UpdateUser(ctx context.Context, user *User, expectedKey []byte) error
	HasAnyOrganizationRole(ctx context.Context, userID uuid.UUID) (bool, error)

	// Credential state. RecordPasswordFailure and RecordTOTPFailure
	// atomically increment the counter and set the lockout timestamp when
	// the incremented value crosses the threshold, returning the new count.
	RecordPasswordFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error)
	RecordTOTPFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error)
	ClearLockouts(ctx context.Context, userID uuid.UUID) error
	// AdvanceTOTPStep records acceptance of a TOTP time-step. It returns
	// false when the step was already accepted (replay).
	AdvanceTOTPStep(ctx context.Context, userID uuid.UUID, step int64) (bool, error)
	SetPendingTOTPSecret(ctx context.Context, userID uuid.UUID, secret []byte) error
	// EnableTOTP flips the enabled flag; returns false if already enabled.
	EnableTOTP(ctx context.Context, userID uuid.UUID) (bool, error)
	DisableTOTP(ctx context.Context, userID uuid.UUID) error
	SetPassword(ctx context.Context, userID uuid.UUID, hash string) error
	SetAzureObjectID(ctx context.Context, userID uuid.UUID, objectID string) error

	// One-time tokens. UpsertToken replaces any prior row for the
	// (user, purpose) pair, enforcing the single-active-token invariant.
	// ConsumeToken transitions the pending, unexpired row with the given
	// hash to consumed and returns it; it returns (nil, nil) when no such
	// row exists. PeekToken answers the same question without consuming.
	// RevokeToken returns false unless a pending row was transitioned.
	UpsertToken(ctx context.Context, token *OneTimeToken) error
	ConsumeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (*OneTimeToken, error)
	PeekToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (bool, error)
	RevokeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string) (bool, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	RevokeSession(ctx context.Context, id uuid.UUID) error

	// Role and grant reads used by the resolver
	GetOrganizationRole(ctx context.Context, userID, organizationID uuid.UUID) (Role, error)
	HasBuildingGrant(ctx context.Context, userID, buildingID uuid.UUID) (bool, error)

	// Maintenance
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
