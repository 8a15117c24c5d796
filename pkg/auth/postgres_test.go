package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func userRows(id uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "totp_secret", "totp_enabled", "totp_last_step",
		"azure_object_id", "system_role", "disabled",
		"failed_password_attempts", "password_locked_until",
		"failed_totp_attempts", "totp_locked_until",
		"concurrency_key", "created_at", "updated_at",
	}).AddRow(
		id.String(), "alice@example.com", "$argon2id$hash", nil, false, int64(0),
		nil, "normal", false,
		0, nil,
		0, nil,
		[]byte{1, 2, 3, 4}, now, now,
	)
}

func TestPostgresGetUserByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE lower(email) = lower($1)")).
		WithArgs("alice@example.com").
		WillReturnRows(userRows(userID))

	user, err := store.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	require.NotNil(t, user.PasswordHash)
	assert.Equal(t, "$argon2id$hash", *user.PasswordHash)
	assert.Nil(t, user.AzureObjectID)
	assert.Nil(t, user.PasswordLockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetUserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetUser(context.Background(), userID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateUserConflict(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	staleKey := []byte{9, 9, 9, 9}

	mock.ExpectExec("UPDATE users").
		WithArgs(userID, "alice@example.com", SystemRoleNormal, false, sqlmock.AnyArg(), staleKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs(userID).
		WillReturnRows(userRows(userID))

	user := &User{ID: userID, Email: "alice@example.com", SystemRole: SystemRoleNormal}
	err := store.UpdateUser(context.Background(), user, staleKey)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, userID, conflict.Current.ID)
	assert.Equal(t, []byte{1, 2, 3, 4}, conflict.Current.ConcurrencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateUserRotatesKey(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	expectedKey := []byte{1, 2, 3, 4}

	mock.ExpectExec("UPDATE users").
		WithArgs(userID, "alice@example.com", SystemRoleNormal, true, sqlmock.AnyArg(), expectedKey).
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &User{ID: userID, Email: "alice@example.com", SystemRole: SystemRoleNormal, Disabled: true}
	require.NoError(t, store.UpdateUser(context.Background(), user, expectedKey))
	assert.NotEqual(t, expectedKey, user.ConcurrencyKey)
	assert.Len(t, user.ConcurrencyKey, 4)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordPasswordFailure(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	lockUntil := time.Now().Add(15 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SET failed_password_attempts = failed_password_attempts + 1")).
		WithArgs(userID, 5, lockUntil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_password_attempts"}).AddRow(3))

	attempts, err := store.RecordPasswordFailure(context.Background(), userID, 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordPasswordFailureUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SET failed_password_attempts = failed_password_attempts + 1")).
		WithArgs(userID, 5, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_password_attempts"}))

	_, err := store.RecordPasswordFailure(context.Background(), userID, 5, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAdvanceTOTPStep(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("SET totp_last_step = $2")).
		WithArgs(userID, int64(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	advanced, err := store.AdvanceTOTPStep(context.Background(), userID, 100)
	require.NoError(t, err)
	assert.True(t, advanced)

	// Replay of a step already accepted matches no row.
	mock.ExpectExec(regexp.QuoteMeta("SET totp_last_step = $2")).
		WithArgs(userID, int64(100), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	advanced, err = store.AdvanceTOTPStep(context.Background(), userID, 100)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeToken(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	now := time.Now()
	issued := now.Add(-time.Minute)
	expires := now.Add(29 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE one_time_tokens SET consumed = TRUE")).
		WithArgs(userID, PurposeForgotPassword, "hash", now).
		WillReturnRows(sqlmock.NewRows([]string{"metadata", "issued_at", "expires_at"}).
			AddRow("", issued, expires))

	token, err := store.ConsumeToken(context.Background(), userID, PurposeForgotPassword, "hash", now)
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.True(t, token.Consumed)
	assert.Equal(t, expires, token.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeTokenNoPendingRow(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE one_time_tokens SET consumed = TRUE")).
		WithArgs(userID, PurposeForgotPassword, "hash", now).
		WillReturnRows(sqlmock.NewRows([]string{"metadata", "issued_at", "expires_at"}))

	token, err := store.ConsumeToken(context.Background(), userID, PurposeForgotPassword, "hash", now)
	require.NoError(t, err)
	assert.Nil(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetSessionByTokenHashNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM sessions").
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSessionByTokenHash(context.Background(), "hash")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrganizationRole(t *testing.T) {
	store, mock := newMockStore(t)
	userID, orgID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs(userID, orgID).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(3))

	role, err := store.GetOrganizationRole(context.Background(), userID, orgID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	// No assignment row means NoAccess, not an error.
	mock.ExpectQuery("SELECT role FROM organization_members").
		WithArgs(userID, orgID).
		WillReturnRows(sqlmock.NewRows([]string{"role"}))

	role, err = store.GetOrganizationRole(context.Background(), userID, orgID)
	require.NoError(t, err)
	assert.Equal(t, RoleNoAccess, role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteExpiredTokens(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("DELETE FROM one_time_tokens").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := store.DeleteExpiredTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
