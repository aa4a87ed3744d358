package config

import "time"

// TimeoutConfig holds timeout settings for various operations.
// These can be configured via CLI flags to tune behavior per deployment.
type TimeoutConfig struct {
	// Query is the deadline for a single backend round trip. Default: 60s
	Query time.Duration

	// Script is the wall-clock budget for a sandboxed script run.
	// Default: 30s
	Script time.Duration

	// ConnectionTest is the deadline for instance connectivity probes.
	// Default: 10s
	ConnectionTest time.Duration
}

// DefaultTimeoutConfig returns the default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Query:          60 * time.Second,
		Script:         30 * time.Second,
		ConnectionTest: 10 * time.Second,
	}
}
