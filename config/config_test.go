package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, 7, cfg.ShortCode.Length)
	assert.Equal(t, 8, cfg.ShortCode.FallbackLength)
	assert.Equal(t, 10, cfg.ShortCode.MaxAttempts)
	assert.Equal(t, 50, cfg.ShortCode.AliasMaxLength)
	assert.True(t, cfg.ShortCode.AliasAllowSymbols)
	assert.Contains(t, cfg.ShortCode.ReservedWords, "admin")
	assert.Equal(t, "@every 1h", cfg.Reaper.Schedule)
	assert.Equal(t, "delete", cfg.Reaper.Policy)
	assert.Equal(t, 90*24*time.Hour, cfg.ClickEvents.Retention)
	assert.Equal(t, 100, cfg.Bulk.MaxItems)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 5432, cfg.Postgres.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("SHORT_CODE_LENGTH", "6")
	t.Setenv("REAPER_POLICY", "deactivate")
	t.Setenv("STORAGE_TIMEOUT", "2s")
	t.Setenv("PG_HOST", "db.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 6, cfg.ShortCode.Length)
	assert.Equal(t, "deactivate", cfg.Reaper.Policy)
	assert.Equal(t, 2*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	assert.ErrorContains(t, err, "jwt_secret")
}

func validConfig() Config {
	return Config{
		Storage:   StorageConfig{Driver: StorageDriverMemory, Timeout: time.Second},
		Auth:      AuthConfig{JWTSecret: "0123456789abcdef", AccessTokenTTL: time.Minute},
		ShortCode: ShortCodeConfig{Length: 7, FallbackLength: 8, MaxAttempts: 10, AliasMinLength: 3, AliasMaxLength: 50},
		Reaper:    ReaperConfig{Policy: "delete"},
		Bulk:      BulkConfig{MaxItems: 100},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, false},
		{"length too big", func(c *Config) { c.ShortCode.Length = 11 }, false},
		{"fallback shorter", func(c *Config) { c.ShortCode.FallbackLength = 5 }, false},
		{"attempts too many", func(c *Config) { c.ShortCode.MaxAttempts = 21 }, false},
		{"alias max over store limit", func(c *Config) { c.ShortCode.AliasMaxLength = 60 }, false},
		{"unknown policy", func(c *Config) { c.Reaper.Policy = "archive" }, false},
		{"negative click event retention", func(c *Config) { c.ClickEvents.Retention = -time.Hour }, false},
		{"rate limit without window", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, MaxRequests: 1} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
