package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TGDUMP_CONFIG_PATH: config file location (default: ~/.config/tgdump.toml)
//   - TGDUMP_HOME: base directory for tgdump data (default: ~/.local/share/tgdump)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"archive_dir": filepath.Join(baseDir, "archive"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("TGDUMP_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "tgdump.toml"), nil
}

// getBaseDir returns the data directory, falling back to the XDG default.
func getBaseDir() (string, error) {
	if path := os.Getenv("TGDUMP_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "tgdump"), nil
}

// LoadEnvFile loads <baseDir>/.env into the process environment, typically to
// provide the bridge token. Variables already set win. A missing file is not
// an error.
func LoadEnvFile(baseDir string) error {
	path := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}
