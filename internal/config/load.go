package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ConfigPath picks the config file: CLI flag, then environment, then the
// platform default.
func ConfigPath(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return cli.ConfigPath
	case env.ConfigPath != "":
		return env.ConfigPath
	default:
		return DefaultConfigPath()
	}
}

// Resolve loads the config file chosen by ConfigPath and applies the
// environment and CLI layers. It returns the config and the file path.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := ConfigPath(env, cli)

	cfg, err := ResolveFile(path, env, cli)
	if err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

// ResolveFile loads path (or defaults when absent) and applies the
// environment and CLI layers. Watch reloads go through it too, so a
// reloaded config keeps the same overrides.
func ResolveFile(path string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	dataDir := env.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	if cfg.Library.Database == "" {
		cfg.Library.Database = DatabasePath(dataDir)
	}

	if cfg.Cloud.TokenFile == "" {
		cfg.Cloud.TokenFile = CredentialsPath(dataDir)
	}

	cfg.Library.Database = expandHome(cfg.Library.Database)
	cfg.Cloud.TokenFile = expandHome(cfg.Cloud.TokenFile)

	if env.CloudEndpoint != "" {
		cfg.Cloud.Endpoint = env.CloudEndpoint
	}

	if cli.AutoTracking != nil {
		cfg.Tracking.AutoTracking = *cli.AutoTracking
	}

	if cli.Listen != "" {
		cfg.Bridge.Listen = cli.Listen
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
