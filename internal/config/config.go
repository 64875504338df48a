// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for motion-uploader. It supports a
// three-layer override chain (defaults -> config file -> environment/CLI) and
// doubles as the credential store: the refresh token lives in the
// [refresh_token] section of the same file and is rewritten in place.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// The [camera], [app] and [refresh_token] sections mirror the INI layout
// older installations used, so they translate line by line.
type Config struct {
	Camera       CameraConfig       `toml:"camera"`
	App          AppConfig          `toml:"app"`
	RefreshToken RefreshTokenConfig `toml:"refresh_token"`
	Upload       UploadConfig       `toml:"upload"`
	Logging      LoggingConfig      `toml:"logging"`
	Network      NetworkConfig      `toml:"network"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Journal      JournalConfig      `toml:"journal"`
}

// CameraConfig identifies the camera this process uploads for. The id becomes
// the per-device folder under the remote root.
type CameraConfig struct {
	ID       string `toml:"id"`
	WatchDir string `toml:"watch_dir"`
}

// AppConfig holds the Azure AD application registration.
type AppConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	Tenant       string `toml:"tenant"`

	// PersistRotatedRefreshToken writes a refresh token returned by the
	// refresh grant back to the config file. Off by default: only the token
	// obtained by `login` is persisted.
	PersistRotatedRefreshToken bool `toml:"persist_rotated_refresh_token"`
}

// RefreshTokenConfig is the mutable section written by `login`.
type RefreshTokenConfig struct {
	Value string `toml:"value"`
}

// UploadConfig controls batching, timing and verification of the upload loop.
type UploadConfig struct {
	BatchLimit      int    `toml:"batch_limit"`
	SettleDelay     string `toml:"settle_delay"`
	FailureCooldown string `toml:"failure_cooldown"`
	IdleInterval    string `toml:"idle_interval"`
	WatchdogMargin  string `toml:"watchdog_margin"`
	RemoteRoot      string `toml:"remote_root"`
	VerifyHash      bool   `toml:"verify_hash"`
	Watch           bool   `toml:"watch"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior. Both timeouts are mandatory:
// the upload loop must never rely on the watchdog alone to escape a stalled
// connection.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`

	// BandwidthLimit caps upload throughput, e.g. "200KB/s". "0" is
	// unlimited.
	BandwidthLimit string `toml:"bandwidth_limit"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is non-empty.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// JournalConfig controls the local SQLite upload history.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Durations is the parsed form of the duration strings in UploadConfig and
// NetworkConfig. Validate guarantees every field parses, so Durations never
// fails on a validated Config.
type Durations struct {
	SettleDelay     time.Duration
	FailureCooldown time.Duration
	IdleInterval    time.Duration
	WatchdogMargin  time.Duration
	ConnectTimeout  time.Duration
	DataTimeout     time.Duration
}

// Durations parses the duration strings of a validated Config.
func (c *Config) Durations() Durations {
	return Durations{
		SettleDelay:     mustDuration(c.Upload.SettleDelay),
		FailureCooldown: mustDuration(c.Upload.FailureCooldown),
		IdleInterval:    mustDuration(c.Upload.IdleInterval),
		WatchdogMargin:  mustDuration(c.Upload.WatchdogMargin),
		ConnectTimeout:  mustDuration(c.Network.ConnectTimeout),
		DataTimeout:     mustDuration(c.Network.DataTimeout),
	}
}

// mustDuration returns zero for strings that do not parse. Only reachable
// with an unvalidated Config.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	WatchDir   *string // --watch-dir flag
}
