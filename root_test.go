package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/motion-uploader/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTestConfig writes a valid config whose watch dir and journal live in
// dir, appends extra TOML, and loads it.
func writeTestConfig(t *testing.T, dir, extra string) (*config.Config, string) {
	t.Helper()

	content := fmt.Sprintf(`
[camera]
id = "cam1"
watch_dir = %q

[app]
client_id = "client"
client_secret = "secret"
redirect_uri = "https://localhost/callback"

[refresh_token]
value = "RT"

[journal]
path = %q
%s`, dir, filepath.Join(dir, "state", "journal.db"), extra)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path, discardLogger())
	require.NoError(t, err)

	return cfg, path
}

func TestNewLogger_DefaultIsInfoText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(&buf, nil, false, false, false)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNewLogger_ConfigLevel(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "warn"
	cfg.Logging.LogFormat = "text"

	var buf bytes.Buffer
	logger := newLogger(&buf, cfg, false, false, false)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_VerboseOverridesConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "error"

	var buf bytes.Buffer
	newLogger(&buf, cfg, true, false, true).Debug("shown")

	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_QuietOverridesConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.LogLevel = "debug"

	var buf bytes.Buffer
	logger := newLogger(&buf, cfg, false, true, true)

	logger.Warn("hidden")
	logger.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_AutoFormat(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	require.Equal(t, "auto", cfg.Logging.LogFormat)

	var tty, pipe bytes.Buffer

	newLogger(&tty, cfg, false, false, true).Info("hello")
	newLogger(&pipe, cfg, false, false, false).Info("hello")

	assert.Contains(t, tty.String(), "msg=hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(pipe.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
}

func TestNewLogger_ForcedJSON(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Logging.LogFormat = "json"

	var buf bytes.Buffer
	newLogger(&buf, cfg, false, false, true).Info("hello")

	assert.True(t, json.Valid(buf.Bytes()))
}

// newRootCmd binds package-level flag variables, so the command tests are
// not parallel.

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"login", "service", "status", "history"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "watch-dir", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
}

func TestNewRootCmd_CompletionSkipsConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "completion", "bash"})

	require.NoError(t, cmd.Execute())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	flagConfigPath = filepath.Join(t.TempDir(), "missing.toml")
	t.Cleanup(func() { flagConfigPath = "" })

	err := loadConfig(&cobra.Command{})
	require.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestLoadConfig_WatchDirFlag(t *testing.T) {
	dir := t.TempDir()
	_, path := writeTestConfig(t, dir, "")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--watch-dir", "/srv/motion"}))

	t.Cleanup(func() {
		flagConfigPath, flagWatchDir = "", ""
		resolvedCfg, resolvedCfgPath = nil, ""
	})

	require.NoError(t, loadConfig(cmd))
	assert.Equal(t, path, resolvedCfgPath)
	assert.Equal(t, "/srv/motion", resolvedCfg.Camera.WatchDir)
	assert.Equal(t, "cam1", resolvedCfg.Camera.ID)
}
