package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/premisehq/premise/pkg/audit"
)

type recordingAuditLog struct {
	events []*audit.Event
}

func (l *recordingAuditLog) Log(ctx context.Context, event *audit.Event) error {
	l.events = append(l.events, event)
	return nil
}

func (l *recordingAuditLog) Close() error { return nil }

// Fixed clock inside the step the RFC vector code 287082 belongs to.
var verifierNow = time.Unix(45, 0)

func newTestVerifier(t *testing.T, store *memStore) *Verifier {
	t.Helper()
	verifier := NewVerifier(store, NewTOTPManager(DefaultTOTPConfig("Premise")), nil, DefaultVerifierConfig())
	verifier.now = func() time.Time { return verifierNow }
	return verifier
}

func seedUser(t *testing.T, store *memStore, password string, mutate func(*User)) *User {
	t.Helper()
	user := &User{Email: "alice@example.com"}
	if password != "" {
		hash, err := NewPasswordHasher().Hash(password)
		require.NoError(t, err)
		user.PasswordHash = &hash
	}
	if mutate != nil {
		mutate(user)
	}
	store.addUser(user)
	if user.SystemRole != SystemRoleMaster {
		store.roles[user.ID] = true
	}
	return user
}

func TestVerifyCredentialsUnknownEmail(t *testing.T) {
	verifier := newTestVerifier(t, newMemStore())

	result, user, err := verifier.VerifyCredentials(context.Background(), "nobody@example.com", "whatever", "", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, VerifyUserDidNotExist, result)
	assert.Nil(t, user)
}

func TestVerifyCredentialsDisabledAccount(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", func(u *User) { u.Disabled = true })
	verifier := newTestVerifier(t, store)

	result, _, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyNoAccess, result)
}

func TestVerifyCredentialsNoOrganizationRole(t *testing.T) {
	store := newMemStore()
	user := seedUser(t, store, "hunter2hunter2", nil)
	delete(store.roles, user.ID)
	verifier := newTestVerifier(t, store)

	result, _, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyNoAccess, result)
}

func TestVerifyCredentialsMasterNeedsNoOrganizationRole(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", func(u *User) { u.SystemRole = SystemRoleMaster })
	verifier := newTestVerifier(t, store)

	result, user, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestVerifyCredentialsPasswordNotSet(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "", nil)
	verifier := newTestVerifier(t, store)

	result, _, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "anything", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyPasswordNotSet, result)
}

func TestVerifyCredentialsEmailNormalized(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", nil)
	verifier := newTestVerifier(t, store)

	result, _, err := verifier.VerifyCredentials(context.Background(), "  Alice@Example.COM ", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)
}

func TestVerifyCredentialsPasswordLockout(t *testing.T) {
	store := newMemStore()
	user := seedUser(t, store, "hunter2hunter2", nil)
	verifier := newTestVerifier(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "wrong", "", "")
		require.NoError(t, err)
		assert.Equal(t, VerifyPasswordInvalid, result)
	}

	// Fifth failure crossed the threshold; even the right password is now
	// rejected until the window passes.
	result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyPasswordLoginLockedOut, result)

	// Past the window the lockout no longer applies, and success resets
	// the counters.
	verifier.now = func() time.Time { return verifierNow.Add(16 * time.Minute) }
	result, _, err = verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedPasswordAttempts)
	assert.Nil(t, stored.PasswordLockedUntil)
}

func TestVerifyCredentialsSuccessResetsCounter(t *testing.T) {
	store := newMemStore()
	user := seedUser(t, store, "hunter2hunter2", nil)
	verifier := newTestVerifier(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "wrong", "", "")
		require.NoError(t, err)
	}

	result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)

	stored, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedPasswordAttempts)
}

func TestVerifyCredentialsTotpRequired(t *testing.T) {
	store := newMemStore()
	user := seedUser(t, store, "hunter2hunter2", func(u *User) {
		u.TOTPEnabled = true
		u.TOTPSecret = rfcSecret
	})
	verifier := newTestVerifier(t, store)

	result, _, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyTotpCodeRequired, result)

	// A missing code is not a failed attempt.
	stored, err := store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedTOTPAttempts)
}

func TestVerifyCredentialsTotpRequiredIsAudited(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", func(u *User) {
		u.TOTPEnabled = true
		u.TOTPSecret = rfcSecret
	})
	auditLog := &recordingAuditLog{}
	verifier := NewVerifier(store, NewTOTPManager(DefaultTOTPConfig("Premise")), auditLog, DefaultVerifierConfig())
	verifier.now = func() time.Time { return verifierNow }

	result, _, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "", "9.8.7.6")
	require.NoError(t, err)
	assert.Equal(t, VerifyTotpCodeRequired, result)

	require.Len(t, auditLog.events, 1)
	assert.Equal(t, audit.EventTypeAuthLoginFailed, auditLog.events[0].EventType)
	assert.Equal(t, "9.8.7.6", auditLog.events[0].IPAddress)
	assert.Equal(t, VerifyTotpCodeRequired.String(), auditLog.events[0].Message)
}

func TestVerifyCredentialsTotpInvalidAndLockout(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", func(u *User) {
		u.TOTPEnabled = true
		u.TOTPSecret = rfcSecret
	})
	verifier := newTestVerifier(t, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "000000", "")
		require.NoError(t, err)
		assert.Equal(t, VerifyTotpCodeInvalid, result)
	}

	result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "287082", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyTotpLockedOut, result)
}

func TestVerifyCredentialsTotpReplay(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "hunter2hunter2", func(u *User) {
		u.TOTPEnabled = true
		u.TOTPSecret = rfcSecret
	})
	verifier := newTestVerifier(t, store)
	ctx := context.Background()

	result, _, err := verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "287082", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)

	// The same code in the same time-step must not authenticate twice.
	result, _, err = verifier.VerifyCredentials(ctx, "alice@example.com", "hunter2hunter2", "287082", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyTotpCodeAlreadyUsed, result)
}

func TestVerifyCredentialsTotpSuccess(t *testing.T) {
	store := newMemStore()
	user := seedUser(t, store, "hunter2hunter2", func(u *User) {
		u.TOTPEnabled = true
		u.TOTPSecret = rfcSecret
		u.FailedTOTPAttempts = 2
	})
	verifier := newTestVerifier(t, store)

	result, got, err := verifier.VerifyCredentials(context.Background(), "alice@example.com", "hunter2hunter2", "287082", "")
	require.NoError(t, err)
	assert.Equal(t, VerifyOk, result)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	stored, err := store.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedTOTPAttempts)
	assert.Equal(t, int64(1), stored.TOTPLastStep)
}
