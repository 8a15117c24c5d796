package sso

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// AzureConfig holds the Azure AD app registration
type AzureConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Identity is the verified slice of an Azure ID token the rest of the
// system cares about. ObjectID is the tenant-scoped oid claim, the stable
// key accounts are linked on; email claims can change.
type Identity struct {
	ObjectID string
	Email    string
	Name     string
}

// AzureProvider drives the OIDC authorization-code flow against Azure AD
type AzureProvider struct {
	config       AzureConfig
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewAzureProvider discovers the tenant's OIDC endpoints and prepares the
// token verifier.
func NewAzureProvider(ctx context.Context, config AzureConfig) (*AzureProvider, error) {
	if config.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if config.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if config.RedirectURL == "" {
		return nil, fmt.Errorf("redirect url is required")
	}

	issuerURL := fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", config.TenantID)
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &AzureProvider{
		config:       config,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// InitiateLogin redirects to the Azure authorization endpoint
func (p *AzureProvider) InitiateLogin(w http.ResponseWriter, r *http.Request, state string) {
	http.Redirect(w, r, p.oauth2Config.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback exchanges the authorization code and verifies the ID token
func (p *AzureProvider) HandleCallback(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		ObjectID          string `json:"oid"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	identity := &Identity{
		ObjectID: claims.ObjectID,
		Email:    claims.Email,
		Name:     claims.Name,
	}
	// Azure omits the email claim for some account types; preferred_username
	// is a UPN there.
	if identity.Email == "" {
		identity.Email = claims.PreferredUsername
	}

	if identity.ObjectID == "" {
		return nil, fmt.Errorf("missing oid claim in ID token")
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("missing email claim in ID token")
	}
	return identity, nil
}
