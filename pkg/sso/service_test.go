package sso

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/premisehq/premise/pkg/auth"
)

type fakeAuthenticator struct {
	loginResult auth.VerifyCredentialsResult
	loginToken  string
	linkResult  auth.UserLinkAccountResult

	linkedEmail string
	linkedOID   string
}

func (f *fakeAuthenticator) LoginAzure(ctx context.Context, azureObjectID, ip string) (auth.VerifyCredentialsResult, string, error) {
	return f.loginResult, f.loginToken, nil
}

func (f *fakeAuthenticator) InitLinkAccount(ctx context.Context, email, azureObjectID string) (auth.UserLinkAccountResult, error) {
	f.linkedEmail = email
	f.linkedOID = azureObjectID
	return f.linkResult, nil
}

var testIdentity = Identity{
	ObjectID: "azure-oid-42",
	Email:    "alice@example.com",
	Name:     "Alice Example",
}

func TestResolveLinkedAccountSignsIn(t *testing.T) {
	authenticator := &fakeAuthenticator{loginResult: auth.VerifyOk, loginToken: "session-token"}
	service := NewService(nil, authenticator)

	outcome, token, err := service.resolve(context.Background(), testIdentity, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, LoginOk, outcome)
	assert.Equal(t, "session-token", token)
}

func TestResolveUnlinkedAccountStartsLinkFlow(t *testing.T) {
	authenticator := &fakeAuthenticator{
		loginResult: auth.VerifyUserDidNotExist,
		linkResult:  auth.LinkAccountOk,
	}
	service := NewService(nil, authenticator)

	outcome, token, err := service.resolve(context.Background(), testIdentity, "")
	require.NoError(t, err)
	assert.Equal(t, LoginLinkStarted, outcome)
	assert.Empty(t, token)
	assert.Equal(t, "alice@example.com", authenticator.linkedEmail)
	assert.Equal(t, "azure-oid-42", authenticator.linkedOID)
}

func TestResolveUnlinkedAccountWithoutLocalMatch(t *testing.T) {
	authenticator := &fakeAuthenticator{
		loginResult: auth.VerifyUserDidNotExist,
		linkResult:  auth.LinkAccountTokenInvalid,
	}
	service := NewService(nil, authenticator)

	outcome, token, err := service.resolve(context.Background(), testIdentity, "")
	require.NoError(t, err)
	assert.Equal(t, LoginNoAccess, outcome)
	assert.Empty(t, token)
}

func TestResolveDisabledAccount(t *testing.T) {
	authenticator := &fakeAuthenticator{loginResult: auth.VerifyNoAccess}
	service := NewService(nil, authenticator)

	outcome, token, err := service.resolve(context.Background(), testIdentity, "")
	require.NoError(t, err)
	assert.Equal(t, LoginNoAccess, outcome)
	assert.Empty(t, token)
}

func TestNewState(t *testing.T) {
	first, err := NewState()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := NewState()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewAzureProviderValidatesConfig(t *testing.T) {
	ctx := context.Background()
	base := AzureConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://premise.example.com/auth/sso/azure/callback",
	}

	for _, mutate := range []func(*AzureConfig){
		func(c *AzureConfig) { c.TenantID = "" },
		func(c *AzureConfig) { c.ClientID = "" },
		func(c *AzureConfig) { c.ClientSecret = "" },
		func(c *AzureConfig) { c.RedirectURL = "" },
	} {
		cfg := base
		mutate(&cfg)
		_, err := NewAzureProvider(ctx, cfg)
		assert.Error(t, err)
	}
}
