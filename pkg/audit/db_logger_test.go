package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBLoggerRequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLoggerLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	userID := uuid.New()
	event := Authentication(EventTypeAuthLogin, &userID, "alice@example.com", "1.2.3.4", EventStatusSuccess, "ok")

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(
			event.Timestamp, EventTypeAuthLogin, EventStatusSuccess,
			&userID, "alice@example.com", nil, nil, nil, "1.2.3.4", "ok",
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(41), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerLogDeniedEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	userID, orgID := uuid.New(), uuid.New()
	event := AccessDenied(&userID, &orgID, "building", "b-123", "insufficient role")

	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(
			event.Timestamp, EventTypeAuthzAccessDenied, EventStatusDenied,
			&userID, nil, &orgID, "building", "b-123", nil, "insufficient role",
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFromContextFallsBackToNoop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.NoError(t, logger.Log(context.Background(), &Event{Timestamp: time.Now()}))
}

func TestFromContextReturnsStoredLogger(t *testing.T) {
	stored := NoopLogger{}
	ctx := WithLogger(context.Background(), stored)
	assert.Equal(t, stored, FromContext(ctx))
}
