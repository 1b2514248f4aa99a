// Package config loads entitystore settings from an optional YAML file,
// ENTITYSTORE_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/entitystore/internal/layout"
	"github.com/roach88/entitystore/internal/store"
)

// EnvPrefix is prepended to every environment override, e.g.
// ENTITYSTORE_DB_PATH.
const EnvPrefix = "ENTITYSTORE"

// Defaults.
const (
	DefaultDBPath    = "entitystore.db"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Config holds every setting of the entitystore CLI.
type Config struct {
	DBPath          string `mapstructure:"db_path"`
	LayoutCacheSize int    `mapstructure:"layout_cache_size"`
	EventBuffer     int    `mapstructure:"event_buffer"`
	LogLevel        string `mapstructure:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format"`
	// Metrics dumps the store's collectors after each command.
	Metrics bool `mapstructure:"metrics"`
}

// Load reads configuration. An empty path skips the config file; a
// non-empty path must exist. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", DefaultDBPath)
	v.SetDefault("layout_cache_size", layout.DefaultCacheSize)
	v.SetDefault("event_buffer", store.DefaultEventBuffer)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)
	v.SetDefault("metrics", false)

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.LayoutCacheSize <= 0 {
		return fmt.Errorf("layout_cache_size must be positive, got %d", c.LayoutCacheSize)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.EventBuffer)
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q: must be console or json", c.LogFormat)
	}
	return nil
}

// StoreOptions translates the settings into store options.
func (c *Config) StoreOptions() []store.Option {
	return []store.Option{
		store.WithLayoutCacheSize(c.LayoutCacheSize),
		store.WithEventBuffer(c.EventBuffer),
	}
}
