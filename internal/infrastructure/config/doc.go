// Package config provides 12-factor configuration management for the launcher.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional app manifest (YAML or TOML) supplies build identity; anything
// set in the environment wins over the manifest.
//
// Configuration Sections:
//   - Server: shell API server settings (port, host)
//   - App: environment, data directory, runtime version
//   - Logging: Log level and output format
//   - Startup: settle delay, auth wait bound, minimum display time
//   - Updates: OTA update server and polling
//   - Reporter: remote error reporting (disabled without a DSN)
//   - ErrorLog, Notifications, Connectivity, RateLimit
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	if cfg.IsProduction() { ... }
//
// Environment Variables:
//   - PORT, HOST, APP_ENV, APP_DATA_DIR, APP_MANIFEST
//   - LOG_LEVEL, LOG_DEV
//   - STARTUP_SETTLE_DELAY, STARTUP_AUTH_MAX_WAIT, STARTUP_MIN_DISPLAY
//   - UPDATES_URL, UPDATES_CHANNEL, ERROR_REPORTER_DSN
package config
