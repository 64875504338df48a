package config

// Default values for configuration options. These are layer 0 of the
// override chain: a 5s settle delay, a 30s cooldown after a failed upload,
// batches of 10 and a 5s idle wait between scans.
const (
	defaultWatchDir        = "."
	defaultTenant          = "common"
	defaultBatchLimit      = 10
	defaultSettleDelay     = "5s"
	defaultFailureCooldown = "30s"
	defaultIdleInterval    = "5s"
	defaultWatchdogMargin  = "60s"
	defaultRemoteRoot      = "motion_uploader"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
	defaultUserAgent       = "motion-uploader/1.0"
	defaultBandwidthLimit  = "0"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Camera: CameraConfig{
			WatchDir: defaultWatchDir,
		},
		App: AppConfig{
			Tenant: defaultTenant,
		},
		Upload:  defaultUploadConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

func defaultUploadConfig() UploadConfig {
	return UploadConfig{
		BatchLimit:      defaultBatchLimit,
		SettleDelay:     defaultSettleDelay,
		FailureCooldown: defaultFailureCooldown,
		IdleInterval:    defaultIdleInterval,
		WatchdogMargin:  defaultWatchdogMargin,
		RemoteRoot:      defaultRemoteRoot,
		VerifyHash:      true,
		Watch:           true,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
		UserAgent:      defaultUserAgent,
		BandwidthLimit: defaultBandwidthLimit,
	}
}
