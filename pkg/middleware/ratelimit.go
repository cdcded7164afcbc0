package middleware

import (
	"time"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed per window
	RequestsPerWindow int

	// WindowDuration is the length of the rate limit window
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns the default rate limit for anonymous clients
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Minute,
	}
}

// PerUserRateLimitConfig returns the rate limit for authenticated users
func PerUserRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 300,
		WindowDuration:    time.Minute,
	}
}
