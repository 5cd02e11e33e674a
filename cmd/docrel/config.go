package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
)

// Config is the docrel.toml file.
type Config struct {
	// Schema is the path of the YAML collection schema.
	Schema string `toml:"schema" default:"schema.yaml"`

	// Backend is one of "sqlite", "postgres" or "dynamo".
	Backend string `toml:"backend" default:"sqlite"`

	LogLevel string `toml:"log_level" default:"info"`

	// MetricsAddr serves Prometheus metrics on /metrics while a command
	// runs. Empty disables the listener.
	MetricsAddr string `toml:"metrics_addr"`

	SQL    SQLConfig    `toml:"sql"`
	Dynamo DynamoConfig `toml:"dynamo"`
	Store  StoreConfig  `toml:"store"`
}

type SQLConfig struct {
	DSN string `toml:"dsn" default:"file:docrel.db"`
}

type DynamoConfig struct {
	Region      string `toml:"region"`
	Endpoint    string `toml:"endpoint"`
	TablePrefix string `toml:"table_prefix"`
	UniqueTable string `toml:"unique_table" default:"docrel_unique_constraints"`
	NumShards   int    `toml:"num_shards" default:"1"`
}

type StoreConfig struct {
	MaxConcurrency int      `toml:"max_concurrency" default:"8"`
	ReadDepth      int      `toml:"read_depth"`
	Strict         bool     `toml:"strict"`
	Locales        []string `toml:"locales"`
}

// loadConfig reads path and fills unset values with defaults. A missing file
// is only an error when required is set.
func loadConfig(path string, required bool) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || required {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	switch cfg.Backend {
	case "sqlite", "postgres", "dynamo":
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return &cfg, nil
}

func (c *Config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
