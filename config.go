package oauth

import (
	"log/slog"

	"github.com/giantswarm/oauth-trust/security"
)

// Handler defaults
const (
	// DefaultMaxRequestBodyBytes bounds form bodies on the token and introspection endpoints
	DefaultMaxRequestBodyBytes = 64 << 10

	// DefaultRetryAfterSeconds is sent with 429 responses
	DefaultRetryAfterSeconds = "60"
)

// Config holds the HTTP handler configuration
type Config struct {
	// ClientIP controls how the caller address is derived for logging and
	// rate limiting.
	ClientIP security.ClientIPConfig

	// HTTPS enables Strict-Transport-Security on responses.
	HTTPS bool

	// RateLimit configures per-IP limiting of the token and introspection
	// endpoints and the bearer middleware.
	RateLimit RateLimitConfig

	// MaxRequestBodyBytes bounds the size of form bodies.
	// Default: 64KB
	MaxRequestBodyBytes int64

	// Realm is written to WWW-Authenticate challenges when set.
	Realm string

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// MaxEntries bounds the number of tracked IPs.
	// Default: security.DefaultRateLimiterMaxEntries
	MaxEntries int
}

// applyDefaults fills zero values
func (c *Config) applyDefaults() {
	if c.MaxRequestBodyBytes <= 0 {
		c.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.Rate * 2)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
	if c.RateLimit.MaxEntries <= 0 {
		c.RateLimit.MaxEntries = security.DefaultRateLimiterMaxEntries
	}
}
