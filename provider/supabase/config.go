package supabase

import (
	"strings"
	"time"
)

// Config holds Supabase project settings.
type Config struct {
	// URL is the project URL (e.g., "https://xyz.supabase.co").
	URL string

	// AnonKey is the public anon API key.
	AnonKey string

	// Timeout bounds a single request when the context has no deadline.
	// Default: 10 seconds.
	Timeout time.Duration

	// RefreshMargin refreshes sessions this long before they expire.
	// Default: 30 seconds.
	RefreshMargin time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(url, anonKey string) Config {
	return Config{
		URL:           url,
		AnonKey:       anonKey,
		Timeout:       10 * time.Second,
		RefreshMargin: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = 30 * time.Second
	}
	return c
}
