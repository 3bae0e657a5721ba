// Package config loads service configuration from the environment.
//
// Only the secrets the whole process depends on (signing secret, database
// path) fail fast at startup. Billing and admin secrets are feature scoped:
// when absent, the endpoints that need them answer "not configured" while
// the rest of the service keeps working.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
)

// Config holds all service configuration
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Auth    AuthConfig
	Billing BillingConfig
	Admin   AdminConfig
	Log     LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig holds database paths
type StorageConfig struct {
	DBPath      string
	JournalPath string
}

// AuthConfig holds token lifecycle configuration
type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SweepSchedule   string
	RateLimit       int
	RateLimitWindow time.Duration
}

// BillingConfig holds payment provider configuration.
// PlanPrices maps plan keys to provider price ids. AppURL is the frontend
// base used for checkout and portal redirects.
type BillingConfig struct {
	SecretKey     string
	WebhookSecret string
	AppURL        string
	PlanPrices    map[string]string
}

// Configured reports whether outbound provider calls can be made.
func (c BillingConfig) Configured() bool { return c.SecretKey != "" }

// WebhookConfigured reports whether inbound webhooks can be verified.
func (c BillingConfig) WebhookConfigured() bool { return c.WebhookSecret != "" }

// TierForPrice resolves a provider price id to a service tier.
func (c BillingConfig) TierForPrice(priceID string) (models.Tier, bool) {
	for plan, id := range c.PlanPrices {
		if id == priceID {
			return models.Tier(plan), models.ValidTier(models.Tier(plan))
		}
	}
	return "", false
}

// PriceForPlan resolves a plan key to its provider price id.
func (c BillingConfig) PriceForPlan(plan string) (string, bool) {
	id, ok := c.PlanPrices[plan]
	return id, ok && id != ""
}

// AdminConfig holds the system-to-system guard secrets
type AdminConfig struct {
	APIKey     string
	HMACSecret string
}

// Configured reports whether the admin surface can be served.
func (c AdminConfig) Configured() bool { return c.APIKey != "" }

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("PATHLIGHT_ADDR", ":8080"),
			ReadTimeout:     getEnvDuration("PATHLIGHT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PATHLIGHT_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PATHLIGHT_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PATHLIGHT_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			DBPath:      getEnv("PATHLIGHT_DB_PATH", "pathlight.db"),
			JournalPath: getEnv("PATHLIGHT_JOURNAL_PATH", "pathlight-events.db"),
		},
		Auth: AuthConfig{
			JWTSecret:       os.Getenv("PATHLIGHT_JWT_SECRET"),
			AccessTokenTTL:  time.Duration(getEnvInt("PATHLIGHT_ACCESS_TOKEN_TTL_MINUTES", 15)) * time.Minute,
			RefreshTokenTTL: time.Duration(getEnvInt("PATHLIGHT_REFRESH_TOKEN_TTL_DAYS", 30)) * 24 * time.Hour,
			SweepSchedule:   getEnv("PATHLIGHT_TOKEN_SWEEP_SCHEDULE", "@hourly"),
			RateLimit:       getEnvInt("PATHLIGHT_AUTH_RATE_LIMIT", 30),
			RateLimitWindow: getEnvDuration("PATHLIGHT_AUTH_RATE_WINDOW", 5*time.Minute),
		},
		Billing: BillingConfig{
			SecretKey:     os.Getenv("PATHLIGHT_BILLING_SECRET_KEY"),
			WebhookSecret: os.Getenv("PATHLIGHT_BILLING_WEBHOOK_SECRET"),
			AppURL:        getEnv("PATHLIGHT_APP_URL", "http://localhost:3000"),
			PlanPrices:    loadPlanPrices(),
		},
		Admin: AdminConfig{
			APIKey:     os.Getenv("PATHLIGHT_ADMIN_API_KEY"),
			HMACSecret: os.Getenv("PATHLIGHT_ADMIN_HMAC_SECRET"),
		},
		Log: LogConfig{
			Level: getEnv("PATHLIGHT_LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration the whole process depends on.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("PATHLIGHT_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("PATHLIGHT_JWT_SECRET must be at least 32 bytes")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("refresh token TTL must be positive")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("PATHLIGHT_DB_PATH is required")
	}
	return nil
}

// loadPlanPrices builds the plan key -> provider price id mapping.
// Plans without a configured price are simply absent from the map;
// checkout for them answers "not configured".
func loadPlanPrices() map[string]string {
	prices := make(map[string]string)
	if id := os.Getenv("PATHLIGHT_PRICE_PRO"); id != "" {
		prices[string(models.TierPro)] = id
	}
	if id := os.Getenv("PATHLIGHT_PRICE_PREMIUM"); id != "" {
		prices[string(models.TierPremium)] = id
	}
	return prices
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
