package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/auth"
	"github.com/premisehq/premise/pkg/contextkeys"
	"github.com/premisehq/premise/pkg/httputil"
)

// SessionStore is the slice of the credential store the middleware reads
type SessionStore interface {
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// AuthMiddleware authenticates requests by bearer session token
type AuthMiddleware struct {
	store SessionStore
	now   func() time.Time
}

// NewAuthMiddleware creates a session authentication middleware
func NewAuthMiddleware(store SessionStore) *AuthMiddleware {
	return &AuthMiddleware{store: store, now: time.Now}
}

// Handler wraps an HTTP handler with session authentication. The session
// must exist, be unrevoked and unexpired, and belong to a non-disabled user;
// anything else is a 401.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		session, err := m.store.GetSessionByTokenHash(r.Context(), auth.HashToken(parts[1]))
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}

		now := m.now()
		if session.RevokedAt != nil || !session.ExpiresAt.After(now) {
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}

		user, err := m.store.GetUser(r.Context(), session.UserID)
		if errors.Is(err, auth.ErrNotFound) {
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}
		if err != nil {
			httputil.WriteInternalError(w)
			return
		}
		if user.Disabled {
			httputil.WriteUnauthorized(w, "account disabled")
			return
		}

		identity := &contextkeys.Identity{
			UserID:    user.ID,
			SessionID: session.ID,
			Master:    user.IsMaster(),
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithIdentity(r.Context(), identity)))
	})
}
