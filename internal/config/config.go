package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ListenAddr      string        `mapstructure:"LISTEN_ADDR"`
	HTTPPort        string        `mapstructure:"HTTP_PORT"`
	Env             string        `mapstructure:"ENV"`
	Store           string        `mapstructure:"STORE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	TokenSigningKey string        `mapstructure:"TOKEN_SIGNING_KEY"`
	TokenTTL        time.Duration `mapstructure:"TOKEN_TTL"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	ConnIdleTimeout time.Duration `mapstructure:"CONN_IDLE_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	TimeZone        string        `mapstructure:"TIME_ZONE"`

	// AdminUsername and AdminPassword seed the first administrator.
	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("LISTEN_ADDR", ":9090")
	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("TOKEN_TTL", "1h")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("CONN_IDLE_TIMEOUT", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIME_ZONE", "UTC")
	v.SetDefault("ADMIN_USERNAME", "admin")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("LISTEN_ADDR")
	v.BindEnv("HTTP_PORT")
	v.BindEnv("ENV")
	v.BindEnv("STORE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("TOKEN_SIGNING_KEY")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("CONN_IDLE_TIMEOUT")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("TIME_ZONE")
	v.BindEnv("ADMIN_USERNAME")
	v.BindEnv("ADMIN_PASSWORD")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Store == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
	}

	if cfg.IsDev() && cfg.TokenSigningKey == "" {
		log.Println("WARNING: TOKEN_SIGNING_KEY is not set; a random key will be generated.")
		log.Println("WARNING: Bearer tokens will not survive a restart.")
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

// Location resolves TIME_ZONE. Wire timestamps without an offset are
// interpreted in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

// Validate checks that the configuration is safe to run. In production a
// TOKEN_SIGNING_KEY of at least 32 bytes (hex encoded) is required and the
// memory store is refused.
func (c *Config) Validate() error {
	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.IsProduction() && c.Store == StoreMemory {
		return fmt.Errorf("STORE=%s is not allowed in production", StoreMemory)
	}

	if c.IsProduction() && c.TokenSigningKey == "" {
		return fmt.Errorf("TOKEN_SIGNING_KEY is required in production")
	}
	if c.TokenSigningKey != "" {
		keyBytes, err := hex.DecodeString(c.TokenSigningKey)
		if err != nil {
			return fmt.Errorf("TOKEN_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) < 32 {
			return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.ConnIdleTimeout <= 0 {
		return fmt.Errorf("CONN_IDLE_TIMEOUT must be positive, got %s", c.ConnIdleTimeout)
	}
	if c.AdminPassword != "" && len(c.AdminPassword) < 6 {
		return fmt.Errorf("ADMIN_PASSWORD must be at least 6 characters")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIME_ZONE %q: %w", c.TimeZone, err)
	}

	return nil
}
