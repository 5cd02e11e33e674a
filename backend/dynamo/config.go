package dynamo

import (
	"log/slog"

	"github.com/jacentio/docrel/internal/shard"
)

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// TablePrefix is prepended to every registry table name.
	// Default: ""
	TablePrefix string

	// UniqueTable is the name of the unique constraints table.
	// Default: "docrel_unique_constraints"
	UniqueTable string

	// NumShards is the number of partitions a parent's dependent rows are
	// spread over. Higher values increase write throughput but require more
	// parallel queries per read.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-partition limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// MaxTransactItems bounds the items of one commit. Commits above it fail;
	// DynamoDB accepts at most 100 items per transaction.
	// Default: 100
	MaxTransactItems int

	// Logger receives operational logs. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		UniqueTable:      "docrel_unique_constraints",
		NumShards:        1,
		MaxTransactItems: 100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.UniqueTable == "" {
		c.UniqueTable = "docrel_unique_constraints"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.MaxShards {
		c.NumShards = shard.MaxShards
	}
	if c.MaxTransactItems < 1 || c.MaxTransactItems > 100 {
		c.MaxTransactItems = 100
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
