package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same conditional-write semantics
// as the PostgreSQL implementation, used to exercise the flows without a
// database.
type memStore struct {
	mu sync.Mutex
	// now supplies the clock for session expiry checks, so fixtures with a
	// pinned service clock see consistent expirations.
	now      func() time.Time
	users    map[uuid.UUID]*User
	roles    map[uuid.UUID]bool
	orgRoles map[[2]uuid.UUID]Role
	grants   map[[2]uuid.UUID]bool
	tokens   map[string]*OneTimeToken
	sessions map[uuid.UUID]*Session
}

func newMemStore() *memStore {
	return &memStore{
		now: time.Now,
		users:    make(map[uuid.UUID]*User),
		roles:    make(map[uuid.UUID]bool),
		orgRoles: make(map[[2]uuid.UUID]Role),
		grants:   make(map[[2]uuid.UUID]bool),
		tokens:   make(map[string]*OneTimeToken),
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (m *memStore) addUser(user *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.SystemRole == "" {
		user.SystemRole = SystemRoleNormal
	}
	user.ConcurrencyKey = []byte{1, 2, 3, 4}
	m.users[user.ID] = user
}

func tokenKey(userID uuid.UUID, purpose TokenPurpose) string {
	return userID.String() + "|" + string(purpose)
}

func (m *memStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetUserByAzureObjectID(ctx context.Context, objectID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.AzureObjectID != nil && *user.AzureObjectID == objectID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateUser(ctx context.Context, user *User) error {
	m.addUser(user)
	return nil
}

func (m *memStore) UpdateUser(ctx context.Context, user *User, expectedKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	if string(current.ConcurrencyKey) != string(expectedKey) {
		copied := *current
		return &ConflictError{Current: &copied}
	}
	current.Email = user.Email
	current.SystemRole = user.SystemRole
	current.Disabled = user.Disabled
	current.ConcurrencyKey = append([]byte(nil), expectedKey...)
	current.ConcurrencyKey[0]++
	user.ConcurrencyKey = current.ConcurrencyKey
	return nil
}

func (m *memStore) HasAnyOrganizationRole(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[userID], nil
}

func (m *memStore) RecordPasswordFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	user.FailedPasswordAttempts++
	if user.FailedPasswordAttempts >= threshold {
		t := lockUntil
		user.PasswordLockedUntil = &t
	}
	return user.FailedPasswordAttempts, nil
}

func (m *memStore) RecordTOTPFailure(ctx context.Context, userID uuid.UUID, threshold int, lockUntil time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	user.FailedTOTPAttempts++
	if user.FailedTOTPAttempts >= threshold {
		t := lockUntil
		user.TOTPLockedUntil = &t
	}
	return user.FailedTOTPAttempts, nil
}

func (m *memStore) ClearLockouts(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.FailedPasswordAttempts = 0
		user.PasswordLockedUntil = nil
		user.FailedTOTPAttempts = 0
		user.TOTPLockedUntil = nil
	}
	return nil
}

func (m *memStore) AdvanceTOTPStep(ctx context.Context, userID uuid.UUID, step int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.TOTPLastStep >= step {
		return false, nil
	}
	user.TOTPLastStep = step
	return true, nil
}

func (m *memStore) SetPendingTOTPSecret(ctx context.Context, userID uuid.UUID, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok && !user.TOTPEnabled {
		user.TOTPSecret = secret
	}
	return nil
}

func (m *memStore) EnableTOTP(ctx context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok || user.TOTPEnabled {
		return false, nil
	}
	user.TOTPEnabled = true
	return true, nil
}

func (m *memStore) DisableTOTP(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.TOTPEnabled = false
		user.TOTPSecret = nil
		user.TOTPLastStep = 0
		user.FailedTOTPAttempts = 0
		user.TOTPLockedUntil = nil
	}
	return nil
}

func (m *memStore) SetPassword(ctx context.Context, userID uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = &hash
		user.FailedPasswordAttempts = 0
		user.PasswordLockedUntil = nil
	}
	return nil
}

func (m *memStore) SetAzureObjectID(ctx context.Context, userID uuid.UUID, objectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[userID]; ok && user.AzureObjectID == nil {
		user.AzureObjectID = &objectID
	}
	return nil
}

func (m *memStore) UpsertToken(ctx context.Context, token *OneTimeToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.tokens[tokenKey(token.UserID, token.Purpose)] = &copied
	return nil
}

func (m *memStore) ConsumeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (*OneTimeToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenKey(userID, purpose)]
	if !ok || token.TokenHash != tokenHash || token.Consumed || token.Revoked || !token.ExpiresAt.After(now) {
		return nil, nil
	}
	token.Consumed = true
	copied := *token
	return &copied, nil
}

func (m *memStore) PeekToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenKey(userID, purpose)]
	return ok && token.TokenHash == tokenHash && !token.Consumed && !token.Revoked && token.ExpiresAt.After(now), nil
}

func (m *memStore) RevokeToken(ctx context.Context, userID uuid.UUID, purpose TokenPurpose, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[tokenKey(userID, purpose)]
	if !ok || token.TokenHash != tokenHash || token.Consumed || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	return true, nil
}

func (m *memStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.TokenHash == tokenHash && session.RevokedAt == nil && session.ExpiresAt.After(m.now()) {
			copied := *session
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) RevokeSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok && session.RevokedAt == nil {
		now := m.now()
		session.RevokedAt = &now
	}
	return nil
}

func (m *memStore) GetOrganizationRole(ctx context.Context, userID, organizationID uuid.UUID) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orgRoles[[2]uuid.UUID{userID, organizationID}], nil
}

func (m *memStore) HasBuildingGrant(ctx context.Context, userID, buildingID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[[2]uuid.UUID{userID, buildingID}], nil
}

func (m *memStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, token := range m.tokens {
		if !token.ExpiresAt.After(now) {
			delete(m.tokens, key)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, session := range m.sessions {
		if !session.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
