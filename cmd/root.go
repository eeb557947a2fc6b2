package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"woeplanet/reconciler/internal/config"
	"woeplanet/reconciler/internal/logging"
	"woeplanet/reconciler/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "woeplanet",
	Short: "WoePlanet gazetteer reconciliation and indexing",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to .woeplanet.toml configuration")
}

// DiscoverConfig finds the configuration file using priority: env >
// flag > walk-up from CWD. An empty result means no file exists and the
// built-in defaults apply.
func DiscoverConfig() (string, error) {
	// 1. Environment variable
	if envPath := os.Getenv("WOEPLANET_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("config not found at WOEPLANET_CONFIG path: %s", envPath)
	}

	// 2. CLI flag
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config not found at --config path: %s", configPath)
	}

	// 3. Walk up from CWD
	dir, err := os.Getwd()
	if err == nil {
		for {
			candidate := filepath.Join(dir, ".woeplanet.toml")
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	return "", nil
}

// LoadConfig discovers and loads the configuration, falling back to the
// defaults when no file is found.
func LoadConfig() (config.Config, error) {
	path, err := DiscoverConfig()
	if err != nil {
		return config.Config{}, err
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// OpenStore opens the canonical store the configuration selects.
func OpenStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.OpenPostgres(cfg.Store.DSN, cfg.Store.CursorTTL.Duration)
	default:
		return store.OpenSQLite(cfg.Store.Path, cfg.Store.CursorTTL.Duration)
	}
}

// NewLogger builds the process logger at the configured level.
func NewLogger(cfg config.Config) zerolog.Logger {
	return logging.New(cfg.Log.Level)
}
