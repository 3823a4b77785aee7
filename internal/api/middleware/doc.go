// Package middleware holds the gin middleware for the launcher API: CORS
// restricted to the embedded shell and per-client rate limiting.
package middleware
