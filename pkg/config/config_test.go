package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/premisehq/premise/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PREMISE_POSTGRES_URL", "postgres://localhost/premise")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutWindow)
	assert.Equal(t, 30*time.Minute, cfg.Auth.ForgotPasswordTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.LinkAccountTokenTTL)
	assert.Equal(t, "Premise", cfg.Auth.TOTPIssuer)
	assert.False(t, cfg.Azure.Enabled)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PREMISE_POSTGRES_URL", "postgres://db.internal/premise")
	t.Setenv("PREMISE_PORT", "9000")
	t.Setenv("PREMISE_SESSION_TTL", "8h")
	t.Setenv("PREMISE_LOCKOUT_THRESHOLD", "3")
	t.Setenv("PREMISE_LOG_LEVEL", "debug")
	t.Setenv("PREMISE_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 8*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 3, cfg.Auth.LockoutThreshold)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigRequiresPostgresURL(t *testing.T) {
	t.Setenv("PREMISE_POSTGRES_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL is required")
}

func TestValidatePortClash(t *testing.T) {
	t.Setenv("PREMISE_POSTGRES_URL", "postgres://localhost/premise")
	t.Setenv("PREMISE_PORT", "9090")
	t.Setenv("PREMISE_HEALTH_PORT", "9090")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestValidateAzureRequiresCredentials(t *testing.T) {
	t.Setenv("PREMISE_POSTGRES_URL", "postgres://localhost/premise")
	t.Setenv("PREMISE_AZURE_ENABLED", "true")
	t.Setenv("PREMISE_AZURE_TENANT_ID", "tenant")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("PREMISE_AZURE_CLIENT_ID", "client")
	t.Setenv("PREMISE_AZURE_CLIENT_SECRET", "secret")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect URL")

	t.Setenv("PREMISE_AZURE_REDIRECT_URL", "https://premise.example.com/auth/sso/azure/callback")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Azure.Enabled)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("nonsense"))
}
