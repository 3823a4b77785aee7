package middleware

import (
	"net/url"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig defines which shell origins may call the launcher API.
type CORSConfig struct {
	AllowOrigins []string
	// AllowLoopback admits any http(s) origin on localhost or 127.0.0.1,
	// whatever the port
	AllowLoopback bool
	AllowMethods  []string
	AllowHeaders  []string
	MaxAge        time.Duration
}

// DefaultCORSConfig admits the embedded shell served from a loopback origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowLoopback: true,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Authorization",
			"Accept",
			"Origin",
		},
		MaxAge: 12 * time.Hour,
	}
}

// Allowed reports whether origin passes cfg. The WebSocket upgrader uses it
// too, so both surfaces accept the same shells.
func (cfg CORSConfig) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	if slices.Contains(cfg.AllowOrigins, "*") || slices.Contains(cfg.AllowOrigins, origin) {
		return true
	}
	if !cfg.AllowLoopback {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// CORS creates a CORS middleware with the provided configuration.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: cfg.Allowed,
		AllowMethods:    cfg.AllowMethods,
		AllowHeaders:    cfg.AllowHeaders,
		MaxAge:          cfg.MaxAge,
	})
}
