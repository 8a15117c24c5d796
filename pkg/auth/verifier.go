package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/premisehq/premise/pkg/audit"
)

// VerifierConfig holds the lockout policy for credential checks
type VerifierConfig struct {
	// LockoutThreshold is the number of consecutive failures after which
	// the respective factor is locked out.
	LockoutThreshold int
	// LockoutWindow is how long a lockout lasts once triggered.
	LockoutWindow time.Duration
}

// DefaultVerifierConfig returns the default lockout policy
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		LockoutThreshold: 5,
		LockoutWindow:    15 * time.Minute,
	}
}

// Verifier validates email/password/TOTP combinations against the credential
// store. Outcomes are mutually exclusive and checked in priority order; every
// failed attempt increments the matching counter and every success resets both.
type Verifier struct {
	store  Store
	hasher *PasswordHasher
	totp   *TOTPManager
	audit  audit.Logger
	config VerifierConfig
	now    func() time.Time
}

// NewVerifier creates a credential verifier
func NewVerifier(store Store, totp *TOTPManager, auditLog audit.Logger, config VerifierConfig) *Verifier {
	if auditLog == nil {
		auditLog = audit.NoopLogger{}
	}
	if config.LockoutThreshold <= 0 {
		config.LockoutThreshold = DefaultVerifierConfig().LockoutThreshold
	}
	if config.LockoutWindow <= 0 {
		config.LockoutWindow = DefaultVerifierConfig().LockoutWindow
	}
	return &Verifier{
		store:  store,
		hasher: NewPasswordHasher(),
		totp:   totp,
		audit:  auditLog,
		config: config,
		now:    time.Now,
	}
}

// VerifyCredentials checks an email/password/TOTP combination. totpCode may
// be empty; when the account has TOTP enabled that yields TotpCodeRequired.
// The returned user is non-nil only on VerifyOk.
func (v *Verifier) VerifyCredentials(ctx context.Context, email, password, totpCode, ip string) (VerifyCredentialsResult, *User, error) {
	now := v.now()

	user, err := v.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		v.logFailure(ctx, nil, email, ip, VerifyUserDidNotExist)
		return VerifyUserDidNotExist, nil, nil
	}
	if err != nil {
		return VerifyUnknownError, nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.Disabled {
		v.logFailure(ctx, user, email, ip, VerifyNoAccess)
		return VerifyNoAccess, nil, nil
	}
	if !user.IsMaster() {
		hasAny, err := v.store.HasAnyOrganizationRole(ctx, user.ID)
		if err != nil {
			return VerifyUnknownError, nil, fmt.Errorf("failed to check organization grants: %w", err)
		}
		if !hasAny {
			v.logFailure(ctx, user, email, ip, VerifyNoAccess)
			return VerifyNoAccess, nil, nil
		}
	}

	if user.PasswordHash == nil {
		v.logFailure(ctx, user, email, ip, VerifyPasswordNotSet)
		return VerifyPasswordNotSet, nil, nil
	}

	if user.PasswordLockedUntil != nil && user.PasswordLockedUntil.After(now) {
		v.logFailure(ctx, user, email, ip, VerifyPasswordLoginLockedOut)
		return VerifyPasswordLoginLockedOut, nil, nil
	}

	match, err := v.hasher.Verify(password, *user.PasswordHash)
	if err != nil {
		return VerifyUnknownError, nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !match {
		if _, err := v.store.RecordPasswordFailure(ctx, user.ID, v.config.LockoutThreshold, now.Add(v.config.LockoutWindow)); err != nil {
			return VerifyUnknownError, nil, fmt.Errorf("failed to record password failure: %w", err)
		}
		v.logFailure(ctx, user, email, ip, VerifyPasswordInvalid)
		return VerifyPasswordInvalid, nil, nil
	}

	if user.TOTPEnabled {
		if totpCode == "" {
			v.logFailure(ctx, user, email, ip, VerifyTotpCodeRequired)
			return VerifyTotpCodeRequired, nil, nil
		}
		if user.TOTPLockedUntil != nil && user.TOTPLockedUntil.After(now) {
			v.logFailure(ctx, user, email, ip, VerifyTotpLockedOut)
			return VerifyTotpLockedOut, nil, nil
		}

		ok, step, err := v.totp.VerifyCode(user.TOTPSecret, totpCode, now)
		if err != nil {
			return VerifyUnknownError, nil, fmt.Errorf("failed to verify totp code: %w", err)
		}
		if !ok {
			if _, err := v.store.RecordTOTPFailure(ctx, user.ID, v.config.LockoutThreshold, now.Add(v.config.LockoutWindow)); err != nil {
				return VerifyUnknownError, nil, fmt.Errorf("failed to record totp failure: %w", err)
			}
			v.logFailure(ctx, user, email, ip, VerifyTotpCodeInvalid)
			return VerifyTotpCodeInvalid, nil, nil
		}

		advanced, err := v.store.AdvanceTOTPStep(ctx, user.ID, step)
		if err != nil {
			return VerifyUnknownError, nil, fmt.Errorf("failed to record totp step: %w", err)
		}
		if !advanced {
			v.logFailure(ctx, user, email, ip, VerifyTotpCodeAlreadyUsed)
			return VerifyTotpCodeAlreadyUsed, nil, nil
		}
	}

	if err := v.store.ClearLockouts(ctx, user.ID); err != nil {
		return VerifyUnknownError, nil, fmt.Errorf("failed to clear lockout counters: %w", err)
	}

	_ = v.audit.Log(ctx, audit.Authentication(audit.EventTypeAuthLogin, &user.ID, user.Email, ip, audit.EventStatusSuccess, VerifyOk.String()))
	return VerifyOk, user, nil
}

func (v *Verifier) logFailure(ctx context.Context, user *User, email, ip string, result VerifyCredentialsResult) {
	event := audit.Authentication(audit.EventTypeAuthLoginFailed, nil, email, ip, audit.EventStatusFailure, result.String())
	if user != nil {
		event.UserID = &user.ID
		event.Email = user.Email
	}
	_ = v.audit.Log(ctx, event)
}
