package store

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// MaxConcurrency bounds the child-table write tasks, and the backend calls
	// they make, in flight at once per upsert. Nested array writes count too.
	// Default: 8
	// Max: 64
	MaxConcurrency int

	// ReadDepth is the relationship population depth used by Find when a
	// negative depth is requested.
	// Default: 0
	// Max: 8
	ReadDepth int

	// Strict rejects document keys that match no field.
	Strict bool

	// Locales restricts the locale codes accepted in localized values.
	// Empty accepts any code.
	Locales []string

	// Logger receives operational logs. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records upsert and task outcomes. Nil disables metrics.
	Metrics *Metrics
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		ReadDepth:      0,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxConcurrency < 1 {
		c.MaxConcurrency = 8
	}
	if c.MaxConcurrency > 64 {
		c.MaxConcurrency = 64
	}
	if c.ReadDepth < 0 {
		c.ReadDepth = 0
	}
	if c.ReadDepth > 8 {
		c.ReadDepth = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
