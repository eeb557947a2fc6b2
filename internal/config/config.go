// Package config loads and validates the reconciler configuration from
// a TOML file. Every knob is an explicit, typed field; components
// receive the values they need by injection, never by reaching for a
// global.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full reconciler configuration.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Staging StagingConfig `toml:"staging"`
	Log     LogConfig     `toml:"log"`
}

// StoreConfig selects and tunes the canonical document store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `toml:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `toml:"dsn"`
	// BatchSize is the number of updates per bulk write.
	BatchSize int `toml:"batch_size"`
	// PageSize is the number of records per scan round trip.
	PageSize int `toml:"page_size"`
	// CursorTTL is the scan cursor's inactivity window before renewal.
	CursorTTL duration `toml:"cursor_ttl"`
}

// StagingConfig locates the ephemeral staging areas.
type StagingConfig struct {
	// Dir for per-run staging files; empty means the system temp dir.
	Dir string `toml:"dir"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `toml:"level"`
}

// duration lets TOML carry values like "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file is present: a
// local sqlite store next to the working directory.
func Default() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = "woeplanet.db"
	}
	if c.Store.BatchSize <= 0 {
		c.Store.BatchSize = 1000
	}
	if c.Store.PageSize <= 0 {
		c.Store.PageSize = 500
	}
	if c.Store.CursorTTL.Duration <= 0 {
		c.Store.CursorTTL.Duration = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations that cannot work rather than letting
// them fail somewhere deep inside an import run.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store config: sqlite driver requires path")
		}
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store config: postgres driver requires dsn")
		}
	default:
		return fmt.Errorf("store config: unknown driver %q", c.Store.Driver)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log config: unknown level %q", c.Log.Level)
	}
	return nil
}
