// Package providers groups the launcher's native capability adapters.
//
// Each subpackage backs one collaborator of the startup sequence:
//   - updates: OTA manifest checks, bundle download and reload
//   - auth: local accounts and the restored device session
//   - reporter: forwarding captured errors to a remote ingest endpoint
//   - notifications: push registration and delivery
//   - connectivity: reachability probing over HTTP or gRPC health
//
// Providers talk to remote services through shared/httpclient and report
// state changes through callbacks, never by blocking the caller.
package providers
