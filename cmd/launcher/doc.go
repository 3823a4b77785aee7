// Package main is the entry point for the appshell launcher.
//
// The launcher owns the native side of the app: it runs the startup
// sequence (OTA check, connectivity, auth restore, notification
// registration, pacing), installs the global error capture and serves the
// local API and WebSocket stream the embedded shell talks to.
//
// Configuration:
//   - Environment variables (12-factor)
//   - An optional app manifest (app.yaml or app.toml) via APP_MANIFEST
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	APP_ENV=production UPDATES_URL=https://updates.example.com ./launcher
//
//	# Development mode (colored logs, debug level)
//	./launcher -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
//
// Applying an update re-executes the binary; the new process serves the
// bundle promoted in the update state.
package main
