package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults resolves the application's default paths. KISYNC_CONFIG_PATH
// overrides the config file location (default ~/.config/kisync.toml) and
// KISYNC_HOME overrides the data directory (default ~/.local/share/kisync).
func GetDefaults() (map[string]string, error) {
	configPath, err := pathFromEnv("KISYNC_CONFIG_PATH", ".config", "kisync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := pathFromEnv("KISYNC_HOME", ".local", "share", "kisync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// pathFromEnv returns the value of env when set, otherwise the given path
// elements joined under the user's home directory.
func pathFromEnv(env string, elem ...string) (string, error) {
	if p := os.Getenv(env); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{home}, elem...)...), nil
}
