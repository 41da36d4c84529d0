package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, []string{"female-top50", "male-top50"}, cfg.Cache.Leaderboards)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HOTLYMPICS_SERVER_ADDR", ":9999")
	t.Setenv("HOTLYMPICS_CACHE_MAX_AGE", "90s")
	t.Setenv("HOTLYMPICS_CACHE_LEADERBOARDS", "a, b ,c")
	t.Setenv("HOTLYMPICS_REDIS_ADDR", "redis:6379")
	t.Setenv("HOTLYMPICS_LOG_ATTRIBUTES", "service=admin,region=eu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, 90*time.Second, cfg.Cache.MaxAge)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Cache.Leaderboards)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, map[string]string{"service": "admin", "region": "eu"}, cfg.Logging.Attributes)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("HOTLYMPICS_CACHE_MAX_AGE", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOTLYMPICS_CACHE_MAX_AGE")
}

func TestLoadFromLookup(t *testing.T) {
	env := map[string]string{"HOTLYMPICS_STORAGE_ADAPTER": "file", "HOTLYMPICS_METRICS_ENABLED": "false"}
	cfg := DefaultConfig()
	require.NoError(t, loadFromLookup(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, "file", cfg.Storage.Adapter)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HOTLYMPICS_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("HOTLYMPICS_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("HOTLYMPICS_TEST_DOTENV"))
}

func TestLoadFromFile(t *testing.T) {
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		},
		"cache": {
			"max_age": 60000000000,
			"refresh_concurrency": 2
		}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, 2, cfg.Cache.RefreshConcurrency)
	// untouched sections keep defaults
	assert.Equal(t, "hotlympics", cfg.Metrics.Namespace)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "invalid environment", mutate: func(c *Config) { c.Environment = "" }, expectError: "environment"},
		{name: "invalid server timeout", mutate: func(c *Config) { c.Server.ReadTimeout = 0 }, expectError: "read_timeout"},
		{name: "relative api url", mutate: func(c *Config) { c.API.BaseURL = "/api" }, expectError: "base_url"},
		{name: "zero max age", mutate: func(c *Config) { c.Cache.MaxAge = 0 }, expectError: "max_age"},
		{name: "blank leaderboard", mutate: func(c *Config) { c.Cache.Leaderboards = []string{"ok", " "} }, expectError: "leaderboards[1]"},
		{name: "unknown adapter", mutate: func(c *Config) { c.Storage.Adapter = "s3" }, expectError: "adapter"},
		{name: "sql without dsn", mutate: func(c *Config) { c.Storage.Adapter = "sql" }, expectError: "dsn"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, expectError: "level"},
		{name: "metrics path", mutate: func(c *Config) { c.Metrics.Path = "metrics" }, expectError: "path"},
		{name: "rate limit", mutate: func(c *Config) {
			c.Security.EnableRateLimit = true
			c.Security.RateLimit.BurstSize = 0
		}, expectError: "burst_size"},
		{name: "webhook url", mutate: func(c *Config) { c.Webhooks.Endpoints = []string{"not a url"} }, expectError: "endpoints[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
				assert.Equal(t, tt.profileName, cfg.Profile)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

func TestSecrets(t *testing.T) {
	store := NewEnvironmentSecretStore()
	t.Setenv("TEST_SECRET_KEY", "test_secret_value")
	ctx := context.Background()

	value, err := store.Get(ctx, "TEST_SECRET_KEY")
	assert.NoError(t, err)
	assert.Equal(t, "test_secret_value", value)

	_, err = store.Get(ctx, "NONEXISTENT_KEY")
	assert.Error(t, err)

	assert.Equal(t, "default", store.GetWithDefault(ctx, "NONEXISTENT_KEY", "default"))
	assert.Equal(t, "test_secret_value", store.GetWithDefault(ctx, "TEST_SECRET_KEY", "default"))
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://admin:hunter2@db/hot"
	cfg.Webhooks.Secret = "whsec"
	cfg.Security.APIKeys = []string{"k1"}

	out := cfg.String()
	assert.False(t, strings.Contains(out, "hunter2"))
	assert.False(t, strings.Contains(out, "whsec"))
	assert.False(t, strings.Contains(out, `"k1"`))
	assert.Equal(t, "postgres://admin:hunter2@db/hot", cfg.Storage.SQL.DSN, "original untouched")
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "config.json")
	txtPath := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(txtPath, []byte("{}"), 0o600))

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"valid json file", jsonPath, false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-json file", txtPath, true},
		{"nonexistent file", filepath.Join(dir, "nonexistent.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
