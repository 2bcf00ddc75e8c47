package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// envPaths holds the environment overrides for file locations.
type envPaths struct {
	ConfigPath string `env:"VAULTEDGE_CONFIG_PATH"`
	Home       string `env:"VAULTEDGE_HOME"`
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - VAULTEDGE_CONFIG_PATH: config file location (default: ~/.config/vaultedge.toml)
//   - VAULTEDGE_HOME: base directory for vaultedge data (default: ~/.local/share/vaultedge)
func GetDefaults() (map[string]string, error) {
	var paths envPaths
	if err := env.Parse(&paths); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if paths.ConfigPath == "" || paths.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if paths.ConfigPath == "" {
			paths.ConfigPath = filepath.Join(homeDir, ".config", "vaultedge.toml")
		}
		if paths.Home == "" {
			paths.Home = filepath.Join(homeDir, ".local", "share", "vaultedge")
		}
	}

	return map[string]string{
		"config_path":  paths.ConfigPath,
		"base_dir":     paths.Home,
		"log_dir":      filepath.Join(paths.Home, "log"),
		"storage_root": filepath.Join(paths.Home, "storage"),
	}, nil
}
