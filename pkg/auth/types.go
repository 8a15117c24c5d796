package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role represents an organization-scoped role. Roles form a total order:
// a higher role implies every permission of the roles below it.
type Role int

const (
	RoleNoAccess Role = iota
	RoleTablet
	RoleUser
	RoleAdmin
	RoleSuperAdmin
)

// String returns the stable wire name of the role
func (r Role) String() string {
	switch r {
	case RoleNoAccess:
		return "no_access"
	case RoleTablet:
		return "tablet"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	case RoleSuperAdmin:
		return "super_admin"
	default:
		return "unknown"
	}
}

// AtLeast reports whether the role meets a required minimum
func (r Role) AtLeast(minimum Role) bool {
	return r >= minimum
}

// ParseRole parses a wire name back into a Role
func ParseRole(s string) (Role, bool) {
	switch s {
	case "no_access":
		return RoleNoAccess, true
	case "tablet":
		return RoleTablet, true
	case "user":
		return RoleUser, true
	case "admin":
		return RoleAdmin, true
	case "super_admin":
		return RoleSuperAdmin, true
	default:
		return RoleNoAccess, false
	}
}

// SystemRole distinguishes normal users from cross-organization masters
type SystemRole string

const (
	SystemRoleNormal SystemRole = "normal"
	SystemRoleMaster SystemRole = "master"
)

// User is the identity record owned by the credential store.
//
// ConcurrencyKey is an opaque 4-byte version stamp regenerated by the store
// on every mutating write. Admin updates must present the stamp they read;
// a mismatch is surfaced as a ConflictError carrying the current record.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  *string    `json:"-"`
	TOTPSecret    []byte     `json:"-"`
	TOTPEnabled   bool       `json:"totp_enabled"`
	TOTPLastStep  int64      `json:"-"`
	AzureObjectID *string    `json:"azure_object_id,omitempty"`
	SystemRole    SystemRole `json:"system_role"`
	Disabled      bool       `json:"disabled"`

	FailedPasswordAttempts int        `json:"-"`
	PasswordLockedUntil    *time.Time `json:"-"`
	FailedTOTPAttempts     int        `json:"-"`
	TOTPLockedUntil        *time.Time `json:"-"`

	ConcurrencyKey []byte    `json:"concurrency_key"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsMaster reports whether the user holds the cross-organization master role
func (u *User) IsMaster() bool {
	return u.SystemRole == SystemRoleMaster
}

// VerifyCredentialsResult enumerates every outcome of a credential check.
// Outcomes are mutually exclusive and checked in priority order.
type VerifyCredentialsResult int

const (
	VerifyUnknownError VerifyCredentialsResult = iota
	VerifyUserDidNotExist
	VerifyNoAccess
	VerifyPasswordNotSet
	VerifyPasswordLoginLockedOut
	VerifyPasswordInvalid
	VerifyTotpCodeRequired
	VerifyTotpLockedOut
	VerifyTotpCodeInvalid
	VerifyTotpCodeAlreadyUsed
	VerifyOk
)

func (r VerifyCredentialsResult) String() string {
	switch r {
	case VerifyUserDidNotExist:
		return "user_did_not_exist"
	case VerifyNoAccess:
		return "no_access"
	case VerifyPasswordNotSet:
		return "password_not_set"
	case VerifyPasswordLoginLockedOut:
		return "password_login_locked_out"
	case VerifyPasswordInvalid:
		return "password_invalid"
	case VerifyTotpCodeRequired:
		return "totp_code_required"
	case VerifyTotpLockedOut:
		return "totp_locked_out"
	case VerifyTotpCodeInvalid:
		return "totp_code_invalid"
	case VerifyTotpCodeAlreadyUsed:
		return "totp_code_already_used"
	case VerifyOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// TokenPurpose scopes a one-time token to a single flow
type TokenPurpose string

const (
	PurposeForgotPassword     TokenPurpose = "forgot_password"
	PurposeDisableTotp        TokenPurpose = "disable_totp"
	PurposeLinkAccountAzureAD TokenPurpose = "link_account_azure_ad"
)

// TokenOutcome is the shared state-machine result for one-time token checks.
// Unknown users, expired, consumed, revoked and mismatched tokens all
// collapse into TokenInvalid so the API never confirms account existence.
type TokenOutcome int

const (
	TokenUnknownError TokenOutcome = iota
	TokenInvalid
	TokenOk
)

func (o TokenOutcome) String() string {
	switch o {
	case TokenInvalid:
		return "invalid"
	case TokenOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// UserEnableTotpResult enumerates TOTP enrollment outcomes
type UserEnableTotpResult int

const (
	EnableTotpUnknownError UserEnableTotpResult = iota
	EnableTotpUserDidNotExist
	EnableTotpAlreadyEnabled
	EnableTotpNotInitialized
	EnableTotpCodeInvalid
	EnableTotpOk
)

func (r UserEnableTotpResult) String() string {
	switch r {
	case EnableTotpUserDidNotExist:
		return "user_did_not_exist"
	case EnableTotpAlreadyEnabled:
		return "already_enabled"
	case EnableTotpNotInitialized:
		return "not_initialized"
	case EnableTotpCodeInvalid:
		return "code_invalid"
	case EnableTotpOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// UserDisableTotpResult enumerates TOTP disable outcomes
type UserDisableTotpResult int

const (
	DisableTotpUnknownError UserDisableTotpResult = iota
	DisableTotpTokenInvalid
	DisableTotpNotEnabled
	DisableTotpOk
)

func (r UserDisableTotpResult) String() string {
	switch r {
	case DisableTotpTokenInvalid:
		return "token_invalid"
	case DisableTotpNotEnabled:
		return "not_enabled"
	case DisableTotpOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// UserForgotPasswordResult enumerates forgot-password flow outcomes
type UserForgotPasswordResult int

const (
	ForgotPasswordUnknownError UserForgotPasswordResult = iota
	ForgotPasswordTokenInvalid
	ForgotPasswordPasswordTooWeak
	ForgotPasswordOk
)

func (r UserForgotPasswordResult) String() string {
	switch r {
	case ForgotPasswordTokenInvalid:
		return "token_invalid"
	case ForgotPasswordPasswordTooWeak:
		return "password_too_weak"
	case ForgotPasswordOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// UserLinkAccountResult enumerates SSO account-link outcomes
type UserLinkAccountResult int

const (
	LinkAccountUnknownError UserLinkAccountResult = iota
	LinkAccountTokenInvalid
	LinkAccountAlreadyLinked
	LinkAccountOk
)

func (r UserLinkAccountResult) String() string {
	switch r {
	case LinkAccountTokenInvalid:
		return "token_invalid"
	case LinkAccountAlreadyLinked:
		return "already_linked"
	case LinkAccountOk:
		return "ok"
	default:
		return "unknown_error"
	}
}

// OneTimeToken is the persisted shape of an emailed single-use token.
// At most one active (pending, unexpired) row exists per (user, purpose).
type OneTimeToken struct {
	UserID    uuid.UUID    `json:"user_id"`
	Purpose   TokenPurpose `json:"purpose"`
	TokenHash string       `json:"-"`
	// Metadata carries flow-specific state, e.g. the Azure AD object id a
	// pending link-account token will bind on consumption.
	Metadata  string       `json:"-"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Consumed  bool         `json:"consumed"`
	Revoked   bool         `json:"revoked"`
}

// Session is a bearer session issued after a successful credential check
type Session struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	TokenHash string     `json:"-"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}
