package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/premisehq/premise/pkg/auth"
)

// LoginOutcome classifies an SSO sign-in attempt
type LoginOutcome int

// SSO login outcomes
const (
	LoginUnknownError LoginOutcome = iota
	LoginNoAccess
	// LoginLinkStarted means no account is linked to the Azure identity but
	// one exists with the same email; a confirmation link has been mailed.
	LoginLinkStarted
	LoginOk
)

// String returns a human-readable outcome
func (o LoginOutcome) String() string {
	switch o {
	case LoginNoAccess:
		return "NoAccess"
	case LoginLinkStarted:
		return "LinkStarted"
	case LoginOk:
		return "Ok"
	default:
		return "UnknownError"
	}
}

// Authenticator is the slice of the auth service the SSO flow drives
type Authenticator interface {
	LoginAzure(ctx context.Context, azureObjectID, ip string) (auth.VerifyCredentialsResult, string, error)
	InitLinkAccount(ctx context.Context, email, azureObjectID string) (auth.UserLinkAccountResult, error)
}

// Service completes Azure sign-ins against the local account base
type Service struct {
	provider *AzureProvider
	auth     Authenticator
}

// NewService creates the SSO service
func NewService(provider *AzureProvider, authenticator Authenticator) *Service {
	return &Service{provider: provider, auth: authenticator}
}

// Provider returns the underlying Azure provider
func (s *Service) Provider() *AzureProvider {
	return s.provider
}

// Complete exchanges the callback code, verifies the Azure identity and signs
// the linked local account in. When no account is linked but one exists with
// the Azure identity's email, the link-account flow is started instead and
// the outcome is LinkStarted. The session token is empty unless the outcome
// is Ok.
func (s *Service) Complete(ctx context.Context, code, ip string) (LoginOutcome, string, error) {
	identity, err := s.provider.HandleCallback(ctx, code)
	if err != nil {
		return LoginUnknownError, "", err
	}
	return s.resolve(ctx, *identity, ip)
}

// resolve maps a verified Azure identity onto a local sign-in outcome
func (s *Service) resolve(ctx context.Context, identity Identity, ip string) (LoginOutcome, string, error) {
	result, token, err := s.auth.LoginAzure(ctx, identity.ObjectID, ip)
	if err != nil {
		return LoginUnknownError, "", err
	}
	switch result {
	case auth.VerifyOk:
		return LoginOk, token, nil
	case auth.VerifyUserDidNotExist:
		linkResult, err := s.auth.InitLinkAccount(ctx, identity.Email, identity.ObjectID)
		if err != nil {
			return LoginUnknownError, "", err
		}
		if linkResult != auth.LinkAccountOk {
			return LoginNoAccess, "", nil
		}
		return LoginLinkStarted, "", nil
	default:
		return LoginNoAccess, "", nil
	}
}

// NewState generates an unguessable state parameter for the redirect
func NewState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
