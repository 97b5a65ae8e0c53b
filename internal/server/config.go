// Package server provides configuration helpers that define runtime defaults
// and validation for the parley delivery service.
package server

import (
	"time"

	"github.com/parley-chat/parley/internal/chat"
)

// defaultMaxMessageSize admits a maximal message.send frame even when the
// client escapes every content rune as a JSON surrogate pair (12 bytes per
// rune), plus headroom for the frame envelope.
const defaultMaxMessageSize = 12*chat.MaxContentLength + 1024

// RateLimitConfig defines the parameters for per-session message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
// Zero or missing values are replaced with defaults when the server is
// constructed.
type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	JWTSecret      string
	RedisURL       string // empty selects the in-process broker

	ShutdownTimeout time.Duration
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Addr: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// sanitized returns a copy of the config with every out-of-range field
// replaced by its default.
func (c Config) sanitized() Config {
	defaults := NewConfig()

	if c.Addr == "" {
		c.Addr = defaults.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	return c
}
