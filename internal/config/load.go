package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrConfigNotFound is returned by Resolve when no config file exists at the
// resolved path. Unlike a sync client, the uploader has no usable zero-config
// mode: the app registration and camera id must come from the file.
var ErrConfigNotFound = errors.New("config: file not found")

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
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

	logger.Debug("config loaded",
		slog.String("path", path),
		slog.String("camera_id", cfg.Camera.ID),
		slog.Bool("refresh_token_present", cfg.RefreshToken.Value != ""),
	)

	return cfg, nil
}

// ResolvePath picks the config file path: CLI > env > platform default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	path := DefaultConfigPath()
	if env.ConfigPath != "" {
		path = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		path = cli.ConfigPath
	}

	return path
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the resolved Config and the path it was read from (the credential store
// writes the refresh token back to that path). Relative directories are made
// absolute against the working directory, so the default "." scans the
// directory the service was started in.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, string, error) {
	path := ResolvePath(env, cli)
	if path == "" {
		return nil, "", fmt.Errorf("%w: cannot determine default config path", ErrConfigNotFound)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, path, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}

	cfg, err := Load(path, logger)
	if err != nil {
		return nil, path, err
	}

	if env.WatchDir != "" {
		cfg.Camera.WatchDir = env.WatchDir
	}

	if cli.WatchDir != nil {
		cfg.Camera.WatchDir = *cli.WatchDir
	}

	abs, err := filepath.Abs(cfg.Camera.WatchDir)
	if err != nil {
		return nil, path, fmt.Errorf("resolving watch_dir %q: %w", cfg.Camera.WatchDir, err)
	}

	cfg.Camera.WatchDir = abs

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath()
	}

	return cfg, path, nil
}
