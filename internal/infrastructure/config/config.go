package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all launcher configuration.
type Config struct {
	Server        ServerConfig
	App           AppConfig
	Logging       LogConfig
	Startup       StartupConfig
	Updates       UpdatesConfig
	Auth          AuthConfig
	Reporter      ReporterConfig
	ErrorLog      ErrorLogConfig
	Notifications NotificationsConfig
	Connectivity  ConnectivityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds the shell API server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8787"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// AppConfig identifies the running application build.
type AppConfig struct {
	Env            string `envconfig:"APP_ENV" default:"development"`
	DataDir        string `envconfig:"APP_DATA_DIR" default:"/tmp/appshell"`
	ManifestPath   string `envconfig:"APP_MANIFEST" default:""`
	Name           string `envconfig:"APP_NAME" default:"appshell"`
	Version        string `envconfig:"APP_VERSION" default:"0.1.0"`
	RuntimeVersion string `envconfig:"APP_RUNTIME_VERSION" default:"1.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StartupConfig tunes the pacing of the startup sequence.
type StartupConfig struct {
	SettleDelay time.Duration `envconfig:"STARTUP_SETTLE_DELAY" default:"500ms"`
	AuthMaxWait time.Duration `envconfig:"STARTUP_AUTH_MAX_WAIT" default:"3s"`
	MinDisplay  time.Duration `envconfig:"STARTUP_MIN_DISPLAY" default:"2s"`
}

// UpdatesConfig holds OTA update server configuration.
type UpdatesConfig struct {
	URL           string        `envconfig:"UPDATES_URL" default:""`
	Channel       string        `envconfig:"UPDATES_CHANNEL" default:"production"`
	CheckInterval time.Duration `envconfig:"UPDATES_CHECK_INTERVAL" default:"15m"`
	KeepBundles   int           `envconfig:"UPDATES_KEEP_BUNDLES" default:"2"`
}

// AuthConfig holds session configuration.
type AuthConfig struct {
	SessionTTL time.Duration `envconfig:"AUTH_SESSION_TTL" default:"720h"`
}

// ReporterConfig holds remote error reporting configuration.
// An empty DSN disables reporting.
type ReporterConfig struct {
	DSN       string  `envconfig:"ERROR_REPORTER_DSN" default:""`
	RateLimit float64 `envconfig:"ERROR_REPORTER_RPS" default:"5"`
	QueueSize int     `envconfig:"ERROR_REPORTER_QUEUE" default:"100"`
}

// ErrorLogConfig holds local error log configuration.
type ErrorLogConfig struct {
	Capacity int `envconfig:"ERROR_LOG_CAPACITY" default:"50"`
}

// NotificationsConfig holds push registration configuration.
type NotificationsConfig struct {
	Enabled bool   `envconfig:"NOTIFICATIONS_ENABLED" default:"true"`
	URL     string `envconfig:"NOTIFICATIONS_URL" default:""`
}

// ConnectivityConfig holds the reachability probe target.
type ConnectivityConfig struct {
	Target  string        `envconfig:"CONNECTIVITY_TARGET" default:"https://clients3.google.com/generate_204"`
	Timeout time.Duration `envconfig:"CONNECTIVITY_TIMEOUT" default:"5s"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables, layered over the
// app manifest when APP_MANIFEST points at one.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.App.ManifestPath != "" {
		m, err := LoadManifest(cfg.App.ManifestPath)
		if err != nil {
			return nil, err
		}
		cfg.applyManifest(m)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8787",
			Host: "127.0.0.1",
		},
		App: AppConfig{
			Env:            "development",
			DataDir:        "/tmp/appshell",
			Name:           "appshell",
			Version:        "0.1.0",
			RuntimeVersion: "1.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Startup: StartupConfig{
			SettleDelay: 500 * time.Millisecond,
			AuthMaxWait: 3 * time.Second,
			MinDisplay:  2 * time.Second,
		},
		Updates: UpdatesConfig{
			Channel:       "production",
			CheckInterval: 15 * time.Minute,
			KeepBundles:   2,
		},
		Auth: AuthConfig{
			SessionTTL: 720 * time.Hour,
		},
		Reporter: ReporterConfig{
			RateLimit: 5,
			QueueSize: 100,
		},
		ErrorLog: ErrorLogConfig{
			Capacity: 50,
		},
		Notifications: NotificationsConfig{
			Enabled: true,
		},
		Connectivity: ConnectivityConfig{
			Target:  "https://clients3.google.com/generate_204",
			Timeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// IsProduction reports whether this is a production build.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.App.Env)
	return env == "production" || env == "prod"
}

// ErrorLogPath is where the local error log is persisted.
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.App.DataDir, "error-log.json")
}

// AuthStorePath is where users and the restored session are persisted.
func (c *Config) AuthStorePath() string {
	return filepath.Join(c.App.DataDir, "auth.json")
}

// BundleDir is the root directory for downloaded update bundles.
func (c *Config) BundleDir() string {
	return filepath.Join(c.App.DataDir, "bundles")
}

// InstallationPath holds the persistent notification installation ID.
func (c *Config) InstallationPath() string {
	return filepath.Join(c.App.DataDir, "installation-id")
}

// applyManifest fills values the environment did not set explicitly.
func (c *Config) applyManifest(m *Manifest) {
	set := func(env string, dst *string, val string) {
		if val == "" {
			return
		}
		if _, ok := os.LookupEnv(env); ok {
			return
		}
		*dst = val
	}

	set("APP_NAME", &c.App.Name, m.Name)
	set("APP_VERSION", &c.App.Version, m.Version)
	set("APP_RUNTIME_VERSION", &c.App.RuntimeVersion, m.RuntimeVersion)
	set("UPDATES_CHANNEL", &c.Updates.Channel, m.Updates.Channel)
	set("UPDATES_URL", &c.Updates.URL, m.Updates.URL)
}
