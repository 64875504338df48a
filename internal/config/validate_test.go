package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Camera.ID = "cam1"
	cfg.App.ClientID = "id"
	cfg.App.ClientSecret = "secret"
	cfg.App.RedirectURI = "https://localhost"

	return cfg
}

func TestValidate_DefaultsWithCredentialsPass(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_MissingRequiredFieldsReportedTogether(t *testing.T) {
	err := Validate(DefaultConfig())
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "camera.id")
	assert.Contains(t, msg, "app.client_id")
	assert.Contains(t, msg, "app.client_secret")
	assert.Contains(t, msg, "app.redirect_uri")
}

func TestValidate_CameraID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{"plain", "front-door", true},
		{"slash", "front/door", false},
		{"colon", "cam:1", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Camera.ID = tt.id

			if tt.ok {
				assert.NoError(t, Validate(cfg))
			} else {
				assert.ErrorContains(t, Validate(cfg), "camera.id")
			}
		})
	}
}

func TestValidate_Upload(t *testing.T) {
	cfg := validConfig()
	cfg.Upload.BatchLimit = 0
	cfg.Upload.SettleDelay = "soon"
	cfg.Upload.IdleInterval = "1ms"
	cfg.Upload.RemoteRoot = "a/b"

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "upload.batch_limit")
	assert.Contains(t, msg, "upload.settle_delay")
	assert.Contains(t, msg, "upload.idle_interval")
	assert.Contains(t, msg, "upload.remote_root")
}

func TestValidate_LoggingAndNetwork(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.LogLevel = "verbose"
	cfg.Logging.LogFormat = "xml"
	cfg.Network.ConnectTimeout = "10ms"
	cfg.Network.DataTimeout = "1s"

	err := Validate(cfg)
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "logging.log_level")
	assert.Contains(t, msg, "logging.log_format")
	assert.Contains(t, msg, "network.connect_timeout")
	assert.Contains(t, msg, "network.data_timeout")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("watch", "watch"))
	assert.Equal(t, 1, levenshtein("batch_limt", "batch_limit"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestClosestMatch_NoneWithinDistance(t *testing.T) {
	assert.Empty(t, closestMatch("completely_different", knownKeys["upload"]))
}
