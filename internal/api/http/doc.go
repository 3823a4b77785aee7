// Package http provides the launcher's local JSON API: startup state and
// trace, the error log, account sessions and notification delivery.
package http
