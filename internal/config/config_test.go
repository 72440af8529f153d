package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "bodhi.", cfg.Notify.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, []string{"packager"}, cfg.Auth.PackagerGroups)
	assert.Equal(t, []string{"admin"}, cfg.Auth.AdminGroups)
	assert.Equal(t, "preferred_username", cfg.OIDC.UsernameClaim)
	assert.False(t, cfg.UseRedis())
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/stacks")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("NOTIFY_TIMEOUT", "250ms")
	t.Setenv("PACKAGER_GROUPS", "packager, provenpackager ,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.UseRedis())
	assert.Equal(t, 250*time.Millisecond, cfg.Notify.Timeout)
	assert.Equal(t, []string{"packager", "provenpackager"}, cfg.Auth.PackagerGroups)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"no packager groups", func(c *Config) { c.Auth.PackagerGroups = nil }},
		{"no admin groups", func(c *Config) { c.Auth.AdminGroups = nil }},
		{"zero timeout", func(c *Config) { c.Notify.Timeout = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"oidc without issuer", func(c *Config) {
			c.OIDC.Enabled = true
			c.OIDC.ClientID = "stacks"
		}},
		{"oidc without client", func(c *Config) {
			c.OIDC.Enabled = true
			c.OIDC.IssuerURL = "https://id.example.org"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for level, want := range tests {
		c := LogConfig{Level: level}
		assert.Equal(t, want, c.SlogLevel(), level)
	}
}
