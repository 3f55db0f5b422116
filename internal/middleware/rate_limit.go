package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration for the HTTP surface
// itself. This is plain request throttling per caller IP, separate from the
// attempt rate limiting the service implements for its clients.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultIngestRateLimit returns the default throttle for the attempt
// ingestion endpoints. Callers are internal services, so the ceiling is
// generous; it exists to contain a misbehaving client, not to police users.
func DefaultIngestRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
	}
}

// DefaultAdminRateLimit returns the default throttle for operator endpoints
func DefaultAdminRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
