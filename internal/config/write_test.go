package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}

func TestSetSectionKey_AppendsMissingSection(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	require.NoError(t, SetSectionKey(path, "refresh_token", "value", "rt-abc", testLogger(t)))

	content := readFile(t, path)
	assert.Contains(t, content, "[refresh_token]\nvalue = \"rt-abc\"\n")
	assert.Contains(t, content, `client_id = "client"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "rt-abc", cfg.RefreshToken.Value)
}

func TestSetSectionKey_ReplacesExistingKeyAndKeepsComments(t *testing.T) {
	content := minimalConfig + `
# written by login
[refresh_token]
# keep this comment
value = "old"

[upload]
batch_limit = 4
`
	path := writeTestConfig(t, content)

	require.NoError(t, SetSectionKey(path, "refresh_token", "value", "new", testLogger(t)))

	got := readFile(t, path)
	assert.Contains(t, got, "# written by login")
	assert.Contains(t, got, "# keep this comment")
	assert.Contains(t, got, `value = "new"`)
	assert.NotContains(t, got, `value = "old"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.RefreshToken.Value)
	assert.Equal(t, 4, cfg.Upload.BatchLimit)
}

func TestSetSectionKey_InsertsKeyIntoExistingSection(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+"\n[refresh_token]\n")

	require.NoError(t, SetSectionKey(path, "refresh_token", "value", "v", testLogger(t)))

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "v", cfg.RefreshToken.Value)
}

func TestSetSectionKey_DoesNotTouchSameKeyInOtherSection(t *testing.T) {
	content := `
[camera]
id = "cam"

[journal]
path = "/tmp/j.db"

[refresh_token]
value = "a"
`
	path := writeTestConfig(t, content)

	require.NoError(t, SetSectionKey(path, "journal", "enabled", "x", testLogger(t)))

	got := readFile(t, path)
	assert.Contains(t, got, `value = "a"`)
	assert.Contains(t, got, `enabled = "x"`)
}

func TestSetSectionKey_FilePermissions(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	require.NoError(t, SetSectionKey(path, "refresh_token", "value", "v", testLogger(t)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())
}

func TestSetSectionKey_MissingFile(t *testing.T) {
	err := SetSectionKey("/nonexistent/config.toml", "refresh_token", "value", "v", testLogger(t))
	require.Error(t, err)
}
