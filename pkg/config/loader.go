package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, merges it over the built-in
// defaults, and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return &cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var user Config
	if err := yaml.Unmarshal(ExpandEnv(raw), &user); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// User values win; defaults fill whatever the file leaves empty.
	if err := mergo.Merge(&user, cfg); err != nil {
		return nil, fmt.Errorf("merge config defaults: %w", err)
	}
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	slog.Info("configuration loaded", "path", path)
	return &user, nil
}
