package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/premisehq/premise/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Azure    AzureConfig

	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the public origin prefixed to emailed links
	BaseURL string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig holds authentication tunables
type AuthConfig struct {
	SessionTTL       time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration
	TOTPIssuer       string

	ForgotPasswordTokenTTL time.Duration
	DisableTotpTokenTTL    time.Duration
	LinkAccountTokenTTL    time.Duration
}

// AzureConfig holds the Azure AD SSO app registration. SSO is disabled when
// Enabled is false.
type AzureConfig struct {
	Enabled      bool
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PREMISE_HOST", "0.0.0.0"),
			Port:            getEnv("PREMISE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PREMISE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PREMISE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PREMISE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PREMISE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("PREMISE_HEALTH_PORT", "9090"),
			BaseURL:         getEnv("PREMISE_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("PREMISE_POSTGRES_URL", ""),
			MaxConns: getEnvInt("PREMISE_POSTGRES_MAX_CONNS", 25),
			MinConns: getEnvInt("PREMISE_POSTGRES_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			URL:      getEnv("PREMISE_REDIS_URL", ""),
			Password: getEnv("PREMISE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("PREMISE_REDIS_DB", 0),
		},
		Auth: AuthConfig{
			SessionTTL:             getEnvDuration("PREMISE_SESSION_TTL", 12*time.Hour),
			LockoutThreshold:       getEnvInt("PREMISE_LOCKOUT_THRESHOLD", 5),
			LockoutWindow:          getEnvDuration("PREMISE_LOCKOUT_WINDOW", 15*time.Minute),
			TOTPIssuer:             getEnv("PREMISE_TOTP_ISSUER", "Premise"),
			ForgotPasswordTokenTTL: getEnvDuration("PREMISE_FORGOT_PASSWORD_TOKEN_TTL", 30*time.Minute),
			DisableTotpTokenTTL:    getEnvDuration("PREMISE_DISABLE_TOTP_TOKEN_TTL", 30*time.Minute),
			LinkAccountTokenTTL:    getEnvDuration("PREMISE_LINK_ACCOUNT_TOKEN_TTL", 24*time.Hour),
		},
		Azure: AzureConfig{
			Enabled:      getEnvBool("PREMISE_AZURE_ENABLED", false),
			TenantID:     getEnv("PREMISE_AZURE_TENANT_ID", ""),
			ClientID:     getEnv("PREMISE_AZURE_CLIENT_ID", ""),
			ClientSecret: getEnv("PREMISE_AZURE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("PREMISE_AZURE_REDIRECT_URL", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("PREMISE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("PREMISE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return fmt.Errorf("lockout threshold must be positive")
	}
	if c.Azure.Enabled {
		if c.Azure.TenantID == "" || c.Azure.ClientID == "" || c.Azure.ClientSecret == "" {
			return fmt.Errorf("Azure tenant id, client id and client secret are required when SSO is enabled")
		}
		if c.Azure.RedirectURL == "" {
			return fmt.Errorf("Azure redirect URL is required when SSO is enabled")
		}
	}
	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
