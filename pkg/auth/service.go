package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/premisehq/premise/pkg/audit"
	"github.com/premisehq/premise/pkg/notify"
)

const minPasswordLength = 10

// RoleCacheInvalidator is the slice of the role resolver the service needs:
// dropping every cached resolution for a user when the user's disabled flag
// or system role changes. Invalidation happens before the mutating call
// returns, so no request can observe a stale grant.
type RoleCacheInvalidator interface {
	InvalidateUser(userID uuid.UUID)
}

// ServiceConfig holds tunables for the auth flows
type ServiceConfig struct {
	SessionTTL time.Duration
	// BaseURL is the public origin prefixed to emailed links.
	BaseURL string
}

// Service orchestrates the authentication flows exposed to the endpoint
// layer: login, TOTP enrollment and disable, forgot password, and SSO
// account linking.
type Service struct {
	store       Store
	verifier    *Verifier
	tokens      *TokenService
	totp        *TOTPManager
	mailer      notify.Sender
	audit       audit.Logger
	invalidator RoleCacheInvalidator
	config      ServiceConfig
	now         func() time.Time
}

// NewService creates the auth service
func NewService(store Store, verifier *Verifier, tokens *TokenService, totp *TOTPManager, mailer notify.Sender, auditLog audit.Logger, invalidator RoleCacheInvalidator, config ServiceConfig) *Service {
	if auditLog == nil {
		auditLog = audit.NoopLogger{}
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = 12 * time.Hour
	}
	return &Service{
		store:       store,
		verifier:    verifier,
		tokens:      tokens,
		totp:        totp,
		mailer:      mailer,
		audit:       auditLog,
		invalidator: invalidator,
		config:      config,
		now:         time.Now,
	}
}

// Login verifies credentials and, on success, issues a bearer session.
// The session token is empty unless the result is VerifyOk.
func (s *Service) Login(ctx context.Context, email, password, totpCode, ip string) (VerifyCredentialsResult, string, error) {
	result, user, err := s.verifier.VerifyCredentials(ctx, email, password, totpCode, ip)
	if err != nil || result != VerifyOk {
		return result, "", err
	}

	token, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return VerifyUnknownError, "", err
	}
	return VerifyOk, token, nil
}

// LoginAzure signs in the local account linked to an Azure AD object id.
// Azure has already authenticated the user, so the password and TOTP checks
// are skipped; the account-level checks (disabled flag, organization
// membership) still apply. UserDidNotExist means no account is linked to the
// object id and the caller should start the link-account flow.
func (s *Service) LoginAzure(ctx context.Context, azureObjectID, ip string) (VerifyCredentialsResult, string, error) {
	user, err := s.store.GetUserByAzureObjectID(ctx, azureObjectID)
	if errors.Is(err, ErrNotFound) {
		return VerifyUserDidNotExist, "", nil
	}
	if err != nil {
		return VerifyUnknownError, "", fmt.Errorf("failed to load user: %w", err)
	}

	if user.Disabled {
		_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthLoginFailed, &user.ID, user.Email, ip, audit.EventStatusFailure, "account disabled"))
		return VerifyNoAccess, "", nil
	}
	if !user.IsMaster() {
		hasRole, err := s.store.HasAnyOrganizationRole(ctx, user.ID)
		if err != nil {
			return VerifyUnknownError, "", fmt.Errorf("failed to check organization roles: %w", err)
		}
		if !hasRole {
			_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthLoginFailed, &user.ID, user.Email, ip, audit.EventStatusFailure, "no organization role"))
			return VerifyNoAccess, "", nil
		}
	}

	token, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return VerifyUnknownError, "", err
	}
	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthLogin, &user.ID, user.Email, ip, audit.EventStatusSuccess, "azure sso login"))
	return VerifyOk, token, nil
}

func (s *Service) issueSession(ctx context.Context, userID uuid.UUID) (string, error) {
	token, tokenHash, err := NewSessionToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	session := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: tokenHash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return token, nil
}

// Logout revokes the session
func (s *Service) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.store.RevokeSession(ctx, sessionID)
}

// InitTotpEnrollment generates a fresh TOTP secret for a user that has not
// enabled TOTP yet and returns the base32 secret plus the otpauth URI the
// enrollment QR code encodes.
func (s *Service) InitTotpEnrollment(ctx context.Context, userID uuid.UUID) (UserEnableTotpResult, string, string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return EnableTotpUserDidNotExist, "", "", nil
	}
	if err != nil {
		return EnableTotpUnknownError, "", "", fmt.Errorf("failed to load user: %w", err)
	}
	if user.TOTPEnabled {
		return EnableTotpAlreadyEnabled, "", "", nil
	}

	secret, secretBase32, err := s.totp.GenerateSecret()
	if err != nil {
		return EnableTotpUnknownError, "", "", err
	}
	if err := s.store.SetPendingTOTPSecret(ctx, userID, secret); err != nil {
		return EnableTotpUnknownError, "", "", fmt.Errorf("failed to store pending totp secret: %w", err)
	}

	return EnableTotpOk, secretBase32, s.totp.ProvisionURI(secretBase32, user.Email), nil
}

// ConfirmTotpEnrollment verifies the first code against the pending secret
// and enables TOTP for the account.
func (s *Service) ConfirmTotpEnrollment(ctx context.Context, userID uuid.UUID, code string) (UserEnableTotpResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return EnableTotpUserDidNotExist, nil
	}
	if err != nil {
		return EnableTotpUnknownError, fmt.Errorf("failed to load user: %w", err)
	}
	if user.TOTPEnabled {
		return EnableTotpAlreadyEnabled, nil
	}
	if len(user.TOTPSecret) == 0 {
		return EnableTotpNotInitialized, nil
	}

	ok, step, err := s.totp.VerifyCode(user.TOTPSecret, code, s.now())
	if err != nil {
		return EnableTotpUnknownError, fmt.Errorf("failed to verify totp code: %w", err)
	}
	if !ok {
		return EnableTotpCodeInvalid, nil
	}

	enabled, err := s.store.EnableTOTP(ctx, userID)
	if err != nil {
		return EnableTotpUnknownError, fmt.Errorf("failed to enable totp: %w", err)
	}
	if !enabled {
		return EnableTotpAlreadyEnabled, nil
	}
	// Burn the confirmation step so the same code cannot start a login.
	if _, err := s.store.AdvanceTOTPStep(ctx, userID, step); err != nil {
		return EnableTotpUnknownError, fmt.Errorf("failed to record totp step: %w", err)
	}

	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthTotpEnroll, &userID, user.Email, "", audit.EventStatusSuccess, "totp enabled"))
	return EnableTotpOk, nil
}

// InitDisableTotp issues a disable-2FA token and emails its link
func (s *Service) InitDisableTotp(ctx context.Context, userID uuid.UUID) (UserDisableTotpResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return DisableTotpTokenInvalid, nil
	}
	if err != nil {
		return DisableTotpUnknownError, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.TOTPEnabled {
		return DisableTotpNotEnabled, nil
	}

	token, err := s.tokens.Issue(ctx, userID, PurposeDisableTotp, "")
	if err != nil {
		return DisableTotpUnknownError, err
	}
	s.sendTokenLink(ctx, user.Email, "Disable two-factor authentication",
		fmt.Sprintf("%s/account/disable-2fa?user=%s&token=%s", s.config.BaseURL, userID, token))
	return DisableTotpOk, nil
}

// DisableTotp consumes a disable-2FA token and turns TOTP off
func (s *Service) DisableTotp(ctx context.Context, userID uuid.UUID, token string) (UserDisableTotpResult, error) {
	outcome, _, err := s.tokens.ValidateAndConsume(ctx, userID, PurposeDisableTotp, token)
	if err != nil {
		return DisableTotpUnknownError, err
	}
	if outcome != TokenOk {
		return DisableTotpTokenInvalid, nil
	}

	if err := s.store.DisableTOTP(ctx, userID); err != nil {
		return DisableTotpUnknownError, fmt.Errorf("failed to disable totp: %w", err)
	}
	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthTotpDisable, &userID, "", "", audit.EventStatusSuccess, "totp disabled"))
	return DisableTotpOk, nil
}

// RevokeDisableTotp revokes a pending disable-2FA token
func (s *Service) RevokeDisableTotp(ctx context.Context, userID uuid.UUID, token string) (UserDisableTotpResult, error) {
	outcome, err := s.tokens.Revoke(ctx, userID, PurposeDisableTotp, token)
	if err != nil {
		return DisableTotpUnknownError, err
	}
	if outcome != TokenOk {
		return DisableTotpTokenInvalid, nil
	}
	return DisableTotpOk, nil
}

// InitForgotPassword issues a reset token for the account with the given
// email and mails its link. The outcome is Ok whether or not the account
// exists, so the endpoint cannot be used to enumerate emails.
func (s *Service) InitForgotPassword(ctx context.Context, email string) (UserForgotPasswordResult, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthPasswordResetInit, nil, email, "", audit.EventStatusFailure, "unknown email"))
		return ForgotPasswordOk, nil
	}
	if err != nil {
		return ForgotPasswordUnknownError, fmt.Errorf("failed to load user: %w", err)
	}

	token, err := s.tokens.Issue(ctx, user.ID, PurposeForgotPassword, "")
	if err != nil {
		return ForgotPasswordUnknownError, err
	}
	s.sendTokenLink(ctx, user.Email, "Reset your password",
		fmt.Sprintf("%s/account/reset-password?user=%s&token=%s", s.config.BaseURL, user.ID, token))
	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthPasswordResetInit, &user.ID, user.Email, "", audit.EventStatusSuccess, "reset token issued"))
	return ForgotPasswordOk, nil
}

// CheckForgotPasswordToken reports whether the reset token is still valid
// without consuming it; the reset page probes this on load.
func (s *Service) CheckForgotPasswordToken(ctx context.Context, userID uuid.UUID, token string) (UserForgotPasswordResult, error) {
	outcome, err := s.tokens.Check(ctx, userID, PurposeForgotPassword, token)
	if err != nil {
		return ForgotPasswordUnknownError, err
	}
	if outcome != TokenOk {
		return ForgotPasswordTokenInvalid, nil
	}
	return ForgotPasswordOk, nil
}

// CompleteForgotPassword consumes the reset token and sets the new password
func (s *Service) CompleteForgotPassword(ctx context.Context, userID uuid.UUID, token, newPassword string) (UserForgotPasswordResult, error) {
	if len(newPassword) < minPasswordLength {
		return ForgotPasswordPasswordTooWeak, nil
	}

	outcome, _, err := s.tokens.ValidateAndConsume(ctx, userID, PurposeForgotPassword, token)
	if err != nil {
		return ForgotPasswordUnknownError, err
	}
	if outcome != TokenOk {
		return ForgotPasswordTokenInvalid, nil
	}

	hash, err := s.verifier.hasher.Hash(newPassword)
	if err != nil {
		return ForgotPasswordUnknownError, err
	}
	if err := s.store.SetPassword(ctx, userID, hash); err != nil {
		return ForgotPasswordUnknownError, fmt.Errorf("failed to set password: %w", err)
	}

	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthPasswordReset, &userID, "", "", audit.EventStatusSuccess, "password reset"))
	return ForgotPasswordOk, nil
}

// RevokeForgotPassword revokes a pending reset token
func (s *Service) RevokeForgotPassword(ctx context.Context, userID uuid.UUID, token string) (UserForgotPasswordResult, error) {
	outcome, err := s.tokens.Revoke(ctx, userID, PurposeForgotPassword, token)
	if err != nil {
		return ForgotPasswordUnknownError, err
	}
	if outcome != TokenOk {
		return ForgotPasswordTokenInvalid, nil
	}
	return ForgotPasswordOk, nil
}

// InitLinkAccount issues a link-account token binding the given Azure AD
// object id and mails its link to the local account's address. Called by
// the SSO callback when an Azure sign-in matches an unlinked local email.
func (s *Service) InitLinkAccount(ctx context.Context, email, azureObjectID string) (UserLinkAccountResult, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return LinkAccountTokenInvalid, nil
	}
	if err != nil {
		return LinkAccountUnknownError, fmt.Errorf("failed to load user: %w", err)
	}
	if user.AzureObjectID != nil {
		return LinkAccountAlreadyLinked, nil
	}

	token, err := s.tokens.Issue(ctx, user.ID, PurposeLinkAccountAzureAD, azureObjectID)
	if err != nil {
		return LinkAccountUnknownError, err
	}
	s.sendTokenLink(ctx, user.Email, "Confirm account link",
		fmt.Sprintf("%s/account/link?user=%s&token=%s", s.config.BaseURL, user.ID, token))
	return LinkAccountOk, nil
}

// CompleteLinkAccount consumes the link token and binds the Azure AD object
// id it carries to the local account.
func (s *Service) CompleteLinkAccount(ctx context.Context, userID uuid.UUID, token string) (UserLinkAccountResult, error) {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return LinkAccountTokenInvalid, nil
	}
	if err != nil {
		return LinkAccountUnknownError, fmt.Errorf("failed to load user: %w", err)
	}
	if user.AzureObjectID != nil {
		return LinkAccountAlreadyLinked, nil
	}

	outcome, record, err := s.tokens.ValidateAndConsume(ctx, userID, PurposeLinkAccountAzureAD, token)
	if err != nil {
		return LinkAccountUnknownError, err
	}
	if outcome != TokenOk || record.Metadata == "" {
		return LinkAccountTokenInvalid, nil
	}

	if err := s.store.SetAzureObjectID(ctx, userID, record.Metadata); err != nil {
		return LinkAccountUnknownError, fmt.Errorf("failed to link account: %w", err)
	}
	_ = s.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthAccountLink, &userID, user.Email, "", audit.EventStatusSuccess, "azure account linked"))
	return LinkAccountOk, nil
}

// UpdateUser applies an admin edit to the user's email, system role and
// disabled flag, guarded by the concurrency key the admin read. On success
// every cached role resolution for the user is dropped before returning.
func (s *Service) UpdateUser(ctx context.Context, user *User, expectedKey []byte) error {
	if err := s.store.UpdateUser(ctx, user, expectedKey); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateUser(user.ID)
	}
	_ = s.audit.Log(ctx, &audit.Event{
		Timestamp: s.now().UTC(),
		EventType: audit.EventTypeAdminUserUpdate,
		Status:    audit.EventStatusSuccess,
		UserID:    &user.ID,
		Email:     user.Email,
	})
	return nil
}

func (s *Service) sendTokenLink(ctx context.Context, to, subject, link string) {
	if s.mailer == nil {
		return
	}
	// Delivery failures are logged by the sender; the flow outcome does not
	// depend on them.
	_ = s.mailer.Send(ctx, notify.Message{
		To:      to,
		Subject: subject,
		Body:    link,
	})
}
