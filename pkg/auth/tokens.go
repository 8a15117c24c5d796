package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tokenBytes is the entropy of a one-time token (256 bits)
const tokenBytes = 32

// TokenTTLs maps each token purpose to its validity window
type TokenTTLs map[TokenPurpose]time.Duration

// DefaultTokenTTLs returns the default validity windows
func DefaultTokenTTLs() TokenTTLs {
	return TokenTTLs{
		PurposeForgotPassword:     30 * time.Minute,
		PurposeDisableTotp:        30 * time.Minute,
		PurposeLinkAccountAzureAD: 24 * time.Hour,
	}
}

// IssueMetric counts minted one-time tokens by purpose
type IssueMetric interface {
	TokenIssued(purpose string)
}

// TokenService issues and validates short-lived, single-use, purpose-scoped
// tokens embedded in emailed links. Issuing a new token for a (user, purpose)
// pair invalidates any prior unconsumed token for that pair; consumption is a
// single conditional store update, so two concurrent validations of the same
// token cannot both succeed.
type TokenService struct {
	store   Store
	ttls    TokenTTLs
	metrics IssueMetric
	now     func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(store Store, ttls TokenTTLs) *TokenService {
	if ttls == nil {
		ttls = DefaultTokenTTLs()
	}
	return &TokenService{
		store: store,
		ttls:  ttls,
		now:   time.Now,
	}
}

// WithMetrics attaches a counter incremented on every issued token
func (s *TokenService) WithMetrics(m IssueMetric) *TokenService {
	s.metrics = m
	return s
}

// Issue creates a new token for the (user, purpose) pair, replacing any
// previously issued token. The plaintext token is returned exactly once;
// only its SHA-256 hash is stored. metadata is carried on the stored row
// and returned on consumption.
func (s *TokenService) Issue(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, metadata string) (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	ttl, ok := s.ttls[purpose]
	if !ok {
		return "", fmt.Errorf("unknown token purpose %q", purpose)
	}

	now := s.now()
	record := &OneTimeToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: HashToken(token),
		Metadata:  metadata,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.UpsertToken(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TokenIssued(string(purpose))
	}

	return token, nil
}

// ValidateAndConsume atomically consumes the token if it is the pending,
// unexpired token for the pair, returning the consumed row. Unknown users,
// expired, revoked, consumed and mismatched tokens all yield TokenInvalid.
func (s *TokenService) ValidateAndConsume(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, token string) (TokenOutcome, *OneTimeToken, error) {
	record, err := s.store.ConsumeToken(ctx, userID, purpose, HashToken(token), s.now())
	if err != nil {
		return TokenUnknownError, nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if record == nil {
		return TokenInvalid, nil, nil
	}
	return TokenOk, record, nil
}

// Check reports whether the token is the pending, unexpired token for the
// pair without consuming it. Used by page-load probes before the user
// submits the form that consumes the token.
func (s *TokenService) Check(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, token string) (TokenOutcome, error) {
	active, err := s.store.PeekToken(ctx, userID, purpose, HashToken(token), s.now())
	if err != nil {
		return TokenUnknownError, fmt.Errorf("failed to check token: %w", err)
	}
	if !active {
		return TokenInvalid, nil
	}
	return TokenOk, nil
}

// Revoke marks the pending token revoked. Revocation of an already
// consumed, revoked or mismatched token yields TokenInvalid.
func (s *TokenService) Revoke(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, token string) (TokenOutcome, error) {
	revoked, err := s.store.RevokeToken(ctx, userID, purpose, HashToken(token))
	if err != nil {
		return TokenUnknownError, fmt.Errorf("failed to revoke token: %w", err)
	}
	if !revoked {
		return TokenInvalid, nil
	}
	return TokenOk, nil
}

// HashToken computes the hex SHA-256 digest stored in place of a token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewSessionToken generates a bearer session token and its storage hash
func NewSessionToken() (token string, tokenHash string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashToken(token), nil
}
