package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "motion-uploader"

// File names inside the config and data directories.
const (
	configFileName  = "config.toml"
	journalFileName = "journal.db"
	pidFilePrefix   = "service-"
	pidFileSuffix   = ".pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/motion-uploader).
// On macOS, uses ~/Library/Application Support/motion-uploader.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir(home, "XDG_CONFIG_HOME", ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application data
// (journal database, PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/motion-uploader).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir(home, "XDG_DATA_HOME", filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir resolves an XDG base directory variable, falling back to
// home/fallback when the variable is unset.
func xdgDir(home, envVar, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultJournalPath returns the default location of the upload journal.
func DefaultJournalPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, journalFileName)
}

// PIDFilePath returns the PID file used by the service command for one
// camera. One file per camera lets several cameras share a host while
// refusing a second process for the same camera.
func PIDFilePath(cameraID string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, pidFilePrefix+cameraID+pidFileSuffix)
}
