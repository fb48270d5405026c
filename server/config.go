package server

import (
	"fmt"
	"log/slog"
	"net/url"
)

// Config holds token endpoint and introspection configuration
type Config struct {
	// Issuer is the server's issuer identifier, written to the iss claim of reference tokens
	Issuer string

	// AllowUnregisteredPushedRedirectURIs accepts any redirect URI from
	// confidential clients that pushed their authorization parameters (PAR).
	// Default: false
	AllowUnregisteredPushedRedirectURIs bool

	// MaxAuthorizationCodeLength rejects longer code values before any store lookup
	MaxAuthorizationCodeLength int // default: 100

	// MaxResourceIndicatorLength rejects longer resource parameters
	MaxResourceIndicatorLength int // default: 512

	// AccessTokenTTL is the reference token lifetime when the client sets none
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// Default: false
	AllowPKCEPlain bool
}

// Config defaults
const (
	DefaultMaxAuthorizationCodeLength = 100
	DefaultMaxResourceIndicatorLength = 512
	DefaultAccessTokenTTL             = 3600
)

// applySecureDefaults fills zero values and warns about relaxed settings
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.MaxAuthorizationCodeLength == 0 {
		config.MaxAuthorizationCodeLength = DefaultMaxAuthorizationCodeLength
	}
	if config.MaxResourceIndicatorLength == 0 {
		config.MaxResourceIndicatorLength = DefaultMaxResourceIndicatorLength
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}

	if config.AllowUnregisteredPushedRedirectURIs {
		logger.Warn("SECURITY NOTICE: unregistered redirect URIs are accepted for pushed authorization requests",
			"scope", "confidential clients using PAR only",
			"recommendation", "Disable AllowUnregisteredPushedRedirectURIs unless clients need dynamic callbacks")
	}
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256")
	}

	return config
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.MaxAuthorizationCodeLength < 0 {
		return fmt.Errorf("MaxAuthorizationCodeLength must not be negative")
	}
	if c.MaxResourceIndicatorLength < 0 {
		return fmt.Errorf("MaxResourceIndicatorLength must not be negative")
	}
	if c.AccessTokenTTL < 0 {
		return fmt.Errorf("AccessTokenTTL must not be negative")
	}
	if c.Issuer != "" {
		u, err := url.Parse(c.Issuer)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("invalid issuer URL %q", c.Issuer)
		}
	}
	return nil
}
