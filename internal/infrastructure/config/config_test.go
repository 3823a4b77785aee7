package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8787", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)

	assert.Equal(t, "development", cfg.App.Env)
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, 500*time.Millisecond, cfg.Startup.SettleDelay)
	assert.Equal(t, 3*time.Second, cfg.Startup.AuthMaxWait)
	assert.Equal(t, 2*time.Second, cfg.Startup.MinDisplay)

	assert.Equal(t, 50, cfg.ErrorLog.Capacity)
	assert.Empty(t, cfg.Reporter.DSN)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"APP_ENV":               "production",
		"LOG_LEVEL":             "debug",
		"STARTUP_MIN_DISPLAY":   "1500ms",
		"STARTUP_AUTH_MAX_WAIT": "10s",
		"ERROR_REPORTER_DSN":    "https://key@errors.example.com/42",
		"ERROR_LOG_CAPACITY":    "20",
		"NOTIFICATIONS_ENABLED": "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1500*time.Millisecond, cfg.Startup.MinDisplay)
	assert.Equal(t, 10*time.Second, cfg.Startup.AuthMaxWait)
	assert.Equal(t, "https://key@errors.example.com/42", cfg.Reporter.DSN)
	assert.Equal(t, 20, cfg.ErrorLog.Capacity)
	assert.False(t, cfg.Notifications.Enabled)

	// Untouched sections keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Startup.SettleDelay)
	assert.Equal(t, "production", cfg.Updates.Channel)
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"production", true},
		{"prod", true},
		{"PRODUCTION", true},
		{"development", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := Default()
			cfg.App.Env = tt.env
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.App.DataDir = "/var/lib/shell"

	assert.Equal(t, "/var/lib/shell/error-log.json", cfg.ErrorLogPath())
	assert.Equal(t, "/var/lib/shell/auth.json", cfg.AuthStorePath())
	assert.Equal(t, "/var/lib/shell/bundles", cfg.BundleDir())
	assert.Equal(t, "/var/lib/shell/installation-id", cfg.InstallationPath())
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(
		"name: field-notes\nversion: 2.3.0\nruntimeVersion: \"2.0\"\nupdates:\n  url: https://u.example.com\n  channel: beta\n",
	), 0o644))

	tomlPath := filepath.Join(dir, "app.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(
		"name = \"field-notes\"\nversion = \"2.3.0\"\nruntime_version = \"2.0\"\n\n[updates]\nurl = \"https://u.example.com\"\nchannel = \"beta\"\n",
	), 0o644))

	for _, path := range []string{yamlPath, tomlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			m, err := LoadManifest(path)
			require.NoError(t, err)
			assert.Equal(t, "field-notes", m.Name)
			assert.Equal(t, "2.3.0", m.Version)
			assert.Equal(t, "2.0", m.RuntimeVersion)
			assert.Equal(t, "https://u.example.com", m.Updates.URL)
			assert.Equal(t, "beta", m.Updates.Channel)
		})
	}

	_, err := LoadManifest(filepath.Join(dir, "app.json"))
	assert.Error(t, err)
}

func TestLoadEnvironmentOverridesManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"name: field-notes\nruntimeVersion: \"2.0\"\nupdates:\n  channel: beta\n",
	), 0o644))

	t.Setenv("APP_MANIFEST", path)
	t.Setenv("UPDATES_CHANNEL", "canary")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "field-notes", cfg.App.Name)
	assert.Equal(t, "2.0", cfg.App.RuntimeVersion)
	assert.Equal(t, "canary", cfg.Updates.Channel)
}
