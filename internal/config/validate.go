package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation range constants.
const (
	minBatchLimit      = 1
	maxBatchLimit      = 1000
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minIdleInterval    = 100 * time.Millisecond
	maxCameraIDLength  = 128
	onedriveForbidden  = `"*:<>?/\|`
	requiredFieldError = "must not be empty"
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass. The refresh token is not
// required here: `login` runs against a config that has none yet.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateCamera(&cfg.Camera)...)
	errs = append(errs, validateApp(&cfg.App)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateCamera(c *CameraConfig) []error {
	var errs []error

	// The id becomes a OneDrive folder name and part of the PID file name.
	switch {
	case c.ID == "":
		errs = append(errs, fmt.Errorf("camera.id: %s", requiredFieldError))
	case len(c.ID) > maxCameraIDLength:
		errs = append(errs, fmt.Errorf("camera.id: must be at most %d characters", maxCameraIDLength))
	case strings.ContainsAny(c.ID, onedriveForbidden):
		errs = append(errs, fmt.Errorf("camera.id: must not contain any of %s, got %q", onedriveForbidden, c.ID))
	case c.ID == "." || c.ID == "..":
		errs = append(errs, fmt.Errorf("camera.id: %q is not a valid folder name", c.ID))
	}

	if c.WatchDir == "" {
		errs = append(errs, fmt.Errorf("camera.watch_dir: %s", requiredFieldError))
	}

	return errs
}

func validateApp(a *AppConfig) []error {
	var errs []error

	if a.ClientID == "" {
		errs = append(errs, fmt.Errorf("app.client_id: %s", requiredFieldError))
	}

	if a.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("app.client_secret: %s", requiredFieldError))
	}

	if a.RedirectURI == "" {
		errs = append(errs, fmt.Errorf("app.redirect_uri: %s", requiredFieldError))
	}

	if a.Tenant == "" {
		errs = append(errs, fmt.Errorf("app.tenant: %s", requiredFieldError))
	}

	return errs
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	if u.BatchLimit < minBatchLimit || u.BatchLimit > maxBatchLimit {
		errs = append(errs, fmt.Errorf("upload.batch_limit: must be between %d and %d, got %d",
			minBatchLimit, maxBatchLimit, u.BatchLimit))
	}

	errs = append(errs, validateDurationMin("upload.settle_delay", u.SettleDelay, 0)...)
	errs = append(errs, validateDurationMin("upload.failure_cooldown", u.FailureCooldown, 0)...)
	errs = append(errs, validateDurationMin("upload.idle_interval", u.IdleInterval, minIdleInterval)...)
	errs = append(errs, validateDurationMin("upload.watchdog_margin", u.WatchdogMargin, 0)...)

	if u.RemoteRoot == "" || strings.ContainsAny(u.RemoteRoot, onedriveForbidden) {
		errs = append(errs, fmt.Errorf("upload.remote_root: must be a single non-empty folder name, got %q",
			u.RemoteRoot))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q",
			l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q",
			l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	if n.UserAgent == "" {
		errs = append(errs, fmt.Errorf("network.user_agent: %s", requiredFieldError))
	}

	if _, err := ParseRate(n.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("network.bandwidth_limit: %w", err))
	}

	return errs
}

// validateDurationMin parses a Go duration string and checks it against a
// lower bound.
func validateDurationMin(field, value string, minVal time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minVal {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minVal, value)}
	}

	return nil
}
