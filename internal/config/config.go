package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Notify   NotifyConfig
	Auth     AuthConfig
	OIDC     OIDCConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/stacks.db?_txlock=immediate"`
}

// NotifyConfig holds notification publishing configuration.
type NotifyConfig struct {
	RedisURL string        `env:"REDIS_URL"` // Empty logs notifications instead
	Prefix   string        `env:"NOTIFY_PREFIX" envDefault:"bodhi."`
	Timeout  time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
}

// AuthConfig holds authentication and role configuration.
type AuthConfig struct {
	BootstrapAPIKey string   `env:"BOOTSTRAP_API_KEY"`
	PackagerGroups  []string `env:"PACKAGER_GROUPS" envDefault:"packager" envSeparator:","`
	AdminGroups     []string `env:"ADMIN_GROUPS" envDefault:"admin" envSeparator:","`
}

// OIDCConfig holds configuration for accepting OIDC ID tokens as bearer tokens.
type OIDCConfig struct {
	Enabled       bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL     string `env:"OIDC_ISSUER_URL"`
	ClientID      string `env:"OIDC_CLIENT_ID"`
	UsernameClaim string `env:"OIDC_USERNAME_CLAIM" envDefault:"preferred_username"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"` // text or json
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Notify); err != nil {
		return nil, fmt.Errorf("parsing notify config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}
	if err := env.Parse(&cfg.Log); err != nil {
		return nil, fmt.Errorf("parsing log config: %w", err)
	}

	cfg.Auth.PackagerGroups = trimAll(cfg.Auth.PackagerGroups)
	cfg.Auth.AdminGroups = trimAll(cfg.Auth.AdminGroups)

	return cfg, nil
}

// trimAll trims whitespace from every element and drops empty ones.
func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps the configured level to an slog.Level.
func (c *LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if len(c.Auth.PackagerGroups) == 0 {
		return fmt.Errorf("PACKAGER_GROUPS must name at least one group")
	}
	if len(c.Auth.AdminGroups) == 0 {
		return fmt.Errorf("ADMIN_GROUPS must name at least one group")
	}

	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	// Validate OIDC config when enabled
	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
		if c.OIDC.UsernameClaim == "" {
			return fmt.Errorf("OIDC_USERNAME_CLAIM must not be empty when OIDC is enabled")
		}
	}

	return nil
}

// UseRedis returns true if notifications should be published to Redis.
func (c *Config) UseRedis() bool {
	return c.Notify.RedisURL != ""
}
