package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds jls configuration options.
type Config struct {
	// TokenField names the record field used by "jls seen" when a file has
	// no token index and must fall back to scanning.
	TokenField string `json:"token_field,omitempty"`
}

// ConfigFileName is the project-level config file name.
const ConfigFileName = ".jls.json"

var errConfigInvalid = errors.New("invalid config file")

// loadConfig loads configuration with the following precedence (highest wins):
//  1. Defaults (empty)
//  2. Global user config ($XDG_CONFIG_HOME/jls/config.json or ~/.config/jls/config.json)
//  3. Project config (.jls.json in workDir, if present)
//
// Config files are JWCC (JSON with comments and trailing commas).
func loadConfig(workDir string, env []string) (Config, error) {
	var cfg Config

	if globalPath := globalConfigPath(env); globalPath != "" {
		if err := readConfigFile(globalPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := readConfigFile(filepath.Join(workDir, ConfigFileName), &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// globalConfigPath returns the global config path, or "" if no home
// directory can be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "jls", "config.json")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "jls", "config.json")
}

// readConfigFile merges the config at path into cfg.
// A missing file is not an error.
func readConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("reading config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return nil
}
