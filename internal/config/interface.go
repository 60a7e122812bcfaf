package config

import "time"

// Provider exposes derived configuration values to the rest of the daemon.
// All values are immutable after loading; runtime rate changes go through
// the scheduler's rate controller, not through this package.
type Provider interface {
	// Period returns the initial inter-acquisition period.
	Period() time.Duration

	// MinPeriod returns the hardware-enforced minimum period.
	MinPeriod() time.Duration
}

// Period returns the configured inter-acquisition period.
func (c *Config) Period() time.Duration {
	return time.Duration(c.PeriodUS) * time.Microsecond
}

// MinPeriod returns the hardware-enforced minimum period.
func (c *Config) MinPeriod() time.Duration {
	return time.Duration(c.MinPeriodUS) * time.Microsecond
}

// IsDebug reports whether debug logging is configured.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsVerbose reports whether info-level logging is configured.
func (c *Config) IsVerbose() bool {
	return c.LogLevel == "debug" || c.LogLevel == "info"
}
