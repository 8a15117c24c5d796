package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsEmptyWritesNothing(t *testing.T) {
	var errs Errors
	rec := httptest.NewRecorder()

	errs.Write(rec)
	assert.False(t, errs.HasErrors())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestErrorsFieldScopedWritesBadRequest(t *testing.T) {
	var errs Errors
	errs.Add("email", "email is required")
	errs.Add("password", "password is required")

	rec := httptest.NewRecorder()
	errs.Write(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, errs.Fatal())

	var body struct {
		Errors []FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 2)
	assert.Equal(t, "email", body.Errors[0].Field)
	assert.Equal(t, "password is required", body.Errors[1].Message)
}

func TestErrorsFatalWritesNotFound(t *testing.T) {
	var errs Errors
	errs.Add("name", "name is required")
	errs.AddFatal("organizationId", "organization not found")

	rec := httptest.NewRecorder()
	errs.Write(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, errs.Fatal())

	// The fatal body replaces the field list entirely.
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "name is required", body["error"])
}

func TestWriteConflictCarriesCurrentState(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteConflict(rec, map[string]string{"email": "alice@example.com"}))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Error   string            `json:"error"`
		Current map[string]string `json:"current"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body.Error)
	assert.Equal(t, "alice@example.com", body.Current["email"])
}

func TestWriteInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteInternalError(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown error")
	assert.NotContains(t, rec.Body.String(), "sql")
}
