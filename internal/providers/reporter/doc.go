// Package reporter forwards captured errors to a remote ingest endpoint.
//
// Reporting is enabled by ERROR_REPORTER_DSN. Without it the reporter is a
// no-op that logs a single diagnostic. Events are queued and sent by one
// worker through the shared HTTP client, limited to a configured rate.
package reporter
