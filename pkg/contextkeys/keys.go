// Package contextkeys defines the typed context keys shared between the
// middleware chain and request handlers.
package contextkeys

import (
	"context"

	"github.com/google/uuid"
)

// Key is the type for context keys used across packages
type Key string

const (
	// IdentityKey carries the authenticated caller's identity
	IdentityKey Key = "identity"
)

// Identity is the authenticated caller attached to a request
type Identity struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Master    bool
}

// WithIdentity attaches the caller identity to the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// IdentityFrom retrieves the caller identity, if any
func IdentityFrom(ctx context.Context) *Identity {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
