package schema

// Config holds configuration for building a Registry.
type Config struct {
	// MaxNestingDepth bounds how deeply groups, arrays and blocks may nest.
	// Default: 16
	MaxNestingDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxNestingDepth: 16,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxNestingDepth < 1 {
		c.MaxNestingDepth = 16
	}
	if c.MaxNestingDepth > 64 {
		c.MaxNestingDepth = 64
	}
}
