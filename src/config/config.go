package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Storage layer
	StorageRoot     string // base directory for the local provider
	CredentialsPath string // Google OAuth client credentials (credentials.json)
	TokensDir       string // per-user token bundle directory
	PreferencesPath string // persisted user -> provider preference map

	// OAuth flow
	OAuthRedirectURL string // registered redirect URI for the callback endpoint
	FrontendURL      string // where the callback sends the user after auth

	// HTTP surface
	CORSOrigins     []string
	RateLimitPerMin int

	// Remote provider network calls
	RemoteTimeout time.Duration

	// Cron spec for the credential maintenance sweep
	CredentialSweepSchedule string
}

// LoadConfig reads configuration from the environment with sane defaults.
// Fails fast on values that would leave the storage layer misconfigured.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_ROOT", "books")
	v.SetDefault("GOOGLE_CREDENTIALS_PATH", "credentials.json")
	v.SetDefault("TOKENS_DIR", "tokens")
	v.SetDefault("PREFERENCES_PATH", "storage_preferences.json")
	v.SetDefault("OAUTH_REDIRECT_URL", "http://localhost:5000/oauth2callback")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_PER_MIN", 60)
	v.SetDefault("REMOTE_TIMEOUT_SECONDS", 30)
	v.SetDefault("CREDENTIAL_SWEEP_SCHEDULE", "0 4 * * *")

	cfg := &Config{
		Port:                    v.GetString("PORT"),
		Environment:             v.GetString("ENVIRONMENT"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		StorageRoot:             v.GetString("STORAGE_ROOT"),
		CredentialsPath:         v.GetString("GOOGLE_CREDENTIALS_PATH"),
		TokensDir:               v.GetString("TOKENS_DIR"),
		PreferencesPath:         v.GetString("PREFERENCES_PATH"),
		OAuthRedirectURL:        v.GetString("OAUTH_REDIRECT_URL"),
		FrontendURL:             v.GetString("FRONTEND_URL"),
		CORSOrigins:             splitOrigins(v.GetString("CORS_ORIGINS")),
		RateLimitPerMin:         v.GetInt("RATE_LIMIT_PER_MIN"),
		RemoteTimeout:           time.Duration(v.GetInt("REMOTE_TIMEOUT_SECONDS")) * time.Second,
		CredentialSweepSchedule: v.GetString("CREDENTIAL_SWEEP_SCHEDULE"),
	}

	if cfg.StorageRoot == "" {
		return nil, fmt.Errorf("STORAGE_ROOT must not be empty")
	}
	if cfg.PreferencesPath == "" {
		return nil, fmt.Errorf("PREFERENCES_PATH must not be empty")
	}
	if cfg.RateLimitPerMin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MIN must be positive (got %d)", cfg.RateLimitPerMin)
	}
	if cfg.RemoteTimeout <= 0 {
		return nil, fmt.Errorf("REMOTE_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
