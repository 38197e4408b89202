package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/carebook/booking/internal/platform/timezone"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	Storage        string        `mapstructure:"STORAGE"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthMode       string        `mapstructure:"AUTH_MODE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	DefaultTimezone             string        `mapstructure:"DEFAULT_TIMEZONE"`
	DefaultSlotMinutes          int           `mapstructure:"DEFAULT_SLOT_MINUTES"`
	MinDurationMinutes          int           `mapstructure:"MIN_DURATION_MINUTES"`
	MaxDurationMinutes          int           `mapstructure:"MAX_DURATION_MINUTES"`
	ClockSkewGrace              time.Duration `mapstructure:"CLOCK_SKEW_GRACE"`
	AutoConfirmProviderBookings bool          `mapstructure:"AUTO_CONFIRM_PROVIDER_BOOKINGS"`
	ReserveMaxAttempts          int           `mapstructure:"RESERVE_MAX_ATTEMPTS"`
	ReserveBackoff              time.Duration `mapstructure:"RESERVE_BACKOFF"`
	SlotCacheTTL                time.Duration `mapstructure:"SLOT_CACHE_TTL"`

	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "STORAGE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"DEFAULT_TIMEZONE", "DEFAULT_SLOT_MINUTES", "MIN_DURATION_MINUTES", "MAX_DURATION_MINUTES",
	"CLOCK_SKEW_GRACE", "AUTO_CONFIRM_PROVIDER_BOOKINGS", "RESERVE_MAX_ATTEMPTS", "RESERVE_BACKOFF",
	"SLOT_CACHE_TTL", "STRIPE_WEBHOOK_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORAGE", StoragePostgres)
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("DEFAULT_SLOT_MINUTES", 30)
	v.SetDefault("MIN_DURATION_MINUTES", 10)
	v.SetDefault("MAX_DURATION_MINUTES", 240)
	v.SetDefault("CLOCK_SKEW_GRACE", "60s")
	v.SetDefault("AUTO_CONFIRM_PROVIDER_BOOKINGS", false)
	v.SetDefault("RESERVE_MAX_ATTEMPTS", 3)
	v.SetDefault("RESERVE_BACKOFF", "50ms")
	v.SetDefault("SLOT_CACHE_TTL", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 0 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if cfg.Storage == StoragePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise ENV=development means "development" (token
// impersonation, anonymous admin) and anything else means "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeJWT:
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" && c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_MODE=jwt needs AUTH_SIGNING_KEY, AUTH_JWKS_URL or AUTH_ISSUER")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE=%s", StoragePostgres)
		}
	case StorageMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORAGE=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}

	if !timezone.IsValid(c.DefaultTimezone) {
		return fmt.Errorf("DEFAULT_TIMEZONE %q is not a known IANA zone", c.DefaultTimezone)
	}
	if c.MinDurationMinutes <= 0 || c.MaxDurationMinutes < c.MinDurationMinutes {
		return fmt.Errorf("duration bounds must satisfy 0 < MIN_DURATION_MINUTES (%d) <= MAX_DURATION_MINUTES (%d)",
			c.MinDurationMinutes, c.MaxDurationMinutes)
	}
	if c.DefaultSlotMinutes < c.MinDurationMinutes || c.DefaultSlotMinutes > c.MaxDurationMinutes {
		return fmt.Errorf("DEFAULT_SLOT_MINUTES (%d) must be within [%d, %d]",
			c.DefaultSlotMinutes, c.MinDurationMinutes, c.MaxDurationMinutes)
	}
	if c.ClockSkewGrace < 0 {
		return fmt.Errorf("CLOCK_SKEW_GRACE must not be negative")
	}
	if c.ReserveMaxAttempts < 1 {
		return fmt.Errorf("RESERVE_MAX_ATTEMPTS must be at least 1, got %d", c.ReserveMaxAttempts)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.IsProduction() && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
	}
	return nil
}
