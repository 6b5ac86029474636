package embedded

import (
	"time"

	auth "github.com/goliatone/go-member-auth"
)

// Config holds embedded backend options.
type Config struct {
	// SigningKey signs session access tokens.
	SigningKey string

	// TokenExpiration is the session lifetime in hours.
	// Default: 24.
	TokenExpiration int

	// Issuer is set on every access token.
	Issuer string

	// Lockout is applied by handle_failed_login.
	// Default: auth.DefaultLockoutPolicy.
	Lockout auth.LockoutPolicy

	// ResetTokenTTL is the lifetime of password reset tokens.
	// Default: 24 hours.
	ResetTokenTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(signingKey string) Config {
	return Config{
		SigningKey:      signingKey,
		TokenExpiration: 24,
		Issuer:          "go-member-auth",
		Lockout:         auth.DefaultLockoutPolicy,
		ResetTokenTTL:   24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	if c.TokenExpiration <= 0 {
		c.TokenExpiration = 24
	}
	if c.Lockout.MaxAttempts <= 0 {
		c.Lockout = auth.DefaultLockoutPolicy
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = 24 * time.Hour
	}
	return c
}
