package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "en_US", cfg.Locale)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Transcode.Lossy)
	assert.True(t, cfg.Transcode.Lossless)
	assert.Equal(t, "320k", cfg.Transcode.Quality)
	assert.Empty(t, cfg.Watch.Dirs)
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
username = "user@example.com"
uploader_id = "AA:BB:CC:DD:EE:FF"
locale = "fi_FI"
log_level = "debug"

[transcode]
lossy = false
lossless = true
quality = "192k"

[watch]
dirs = ["/music/incoming"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", cfg.Username)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.UploaderID)
	assert.Equal(t, "fi_FI", cfg.Locale)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Transcode.Lossy)
	assert.Equal(t, "192k", cfg.Transcode.Quality)
	assert.Equal(t, []string{"/music/incoming"}, cfg.Watch.Dirs)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `username = "user@example.com"`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "user@example.com", cfg.Username)
	assert.Equal(t, "en_US", cfg.Locale)
	assert.True(t, cfg.Transcode.Lossy)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, `userame = "typo@example.com"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
	assert.Contains(t, err.Error(), "userame")
}

func TestLoad_InvalidTOMLFails(t *testing.T) {
	path := writeConfig(t, `username = `)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidLogLevelFails(t *testing.T) {
	path := writeConfig(t, `log_level = "loud"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_EmptyWatchDirFails(t *testing.T) {
	path := writeConfig(t, `
[watch]
dirs = [""]
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestWriteDefault_ProducesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "en_US", cfg.Locale)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := writeConfig(t, `username = "existing"`)

	err := WriteDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestDefaultDirs_RespectXDGOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	// Only meaningful on Linux; other platforms ignore XDG.
	if dir := DefaultConfigDir(); filepath.IsAbs(dir) {
		assert.NotEmpty(t, dir)
	}

	assert.NotEmpty(t, DefaultConfigPath())
	assert.NotEmpty(t, DefaultHistoryPath())
}
