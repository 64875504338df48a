package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "MOTION_UPLOADER_CONFIG"
	EnvWatchDir = "MOTION_UPLOADER_WATCH_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // MOTION_UPLOADER_CONFIG: override config file path
	WatchDir   string // MOTION_UPLOADER_WATCH_DIR: directory scanned for images
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		WatchDir:   os.Getenv(EnvWatchDir),
	}
}
