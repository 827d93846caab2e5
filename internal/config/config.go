// Package config loads latentrec settings.
//
// Precedence, lowest first: built-in defaults, an optional YAML file,
// LATENTREC_* environment variables. Command-line flags are applied on top
// by the CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/latentrec/internal/pool"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LATENTREC_"

// ConfigPathEnvVar names a config file to load when none is given.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths are searched in order when no file is given.
var DefaultConfigPaths = []string{
	"latentrec.yaml",
	"latentrec.yml",
}

// Config holds the settings shared by the CLI commands.
type Config struct {
	// Database is the SQLite file holding feedback and runs.
	Database string `koanf:"database"`

	// PoolCapacity is the number of pooled engines. 0 selects
	// pool.DefaultCapacity.
	PoolCapacity int `koanf:"pool_capacity"`

	// Parallelism bounds batch leaf tasks. 0 selects GOMAXPROCS.
	Parallelism int `koanf:"parallelism"`

	// FactorLevel is the model level whose latents become factors.
	FactorLevel int `koanf:"factor_level"`

	// TopLevel is the model level of the variables that partition the
	// tree for restricted propagation. 0 selects the children of the root.
	TopLevel int `koanf:"top_level"`

	Restricted bool `koanf:"restricted"`

	// HistorySize keeps each user's latest positives. 0 keeps all.
	HistorySize int `koanf:"history_size"`

	LogLevel string `koanf:"log_level"`
}

func defaultConfig() *Config {
	return &Config{
		Database:     "latentrec.db",
		PoolCapacity: pool.DefaultCapacity,
		FactorLevel:  1,
		LogLevel:     "info",
	}
}

// Load reads the configuration. An empty path searches ConfigPathEnvVar
// and DefaultConfigPaths; a missing default file is not an error, a missing
// explicit file is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// LATENTREC_POOL_CAPACITY -> pool_capacity
	envProvider := env.Provider(EnvPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		// The file path itself is not a setting.
		return ""
	}
	return key
}

// Validate checks ranges and the log level.
func (c *Config) Validate() error {
	switch {
	case c.Database == "":
		return fmt.Errorf("database must not be empty")
	case c.PoolCapacity < 0:
		return fmt.Errorf("pool_capacity must be >= 0, got %d", c.PoolCapacity)
	case c.Parallelism < 0:
		return fmt.Errorf("parallelism must be >= 0, got %d", c.Parallelism)
	case c.FactorLevel < 1:
		return fmt.Errorf("factor_level must be >= 1, got %d", c.FactorLevel)
	case c.TopLevel < 0:
		return fmt.Errorf("top_level must be >= 0, got %d", c.TopLevel)
	case c.HistorySize < 0:
		return fmt.Errorf("history_size must be >= 0, got %d", c.HistorySize)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
