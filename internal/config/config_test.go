package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvServer, "")
	t.Setenv(EnvToken, "")
	t.Setenv(EnvVerbose, "")
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	paths := PathsIn(t.TempDir())

	cfg, err := LoadFrom(paths)
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.Token())

	assert.DirExists(t, paths.LayoutsDir)
}

func TestSaveAndReload(t *testing.T) {
	paths := PathsIn(t.TempDir())

	cfg := Default()
	cfg.ServerURL = "http://printer-host:3000"
	cfg.RollbackOnFailure = true
	require.NoError(t, cfg.SetToken(paths, "tok-123"))

	info, err := os.Stat(paths.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(paths)
	require.NoError(t, err)
	assert.Equal(t, "http://printer-host:3000", loaded.ServerURL)
	assert.True(t, loaded.RollbackOnFailure)
	assert.Equal(t, "tok-123", loaded.Token())

	require.NoError(t, loaded.ClearAuth(paths))
	again, err := LoadFrom(paths)
	require.NoError(t, err)
	assert.Empty(t, again.Token())
}

func TestLoadRejectsGarbage(t *testing.T) {
	paths := PathsIn(t.TempDir())
	require.NoError(t, paths.EnsureDirectories())
	require.NoError(t, os.WriteFile(paths.ConfigFile, []byte("{not json"), 0600))

	_, err := LoadFrom(paths)
	assert.Error(t, err)
}

func TestApplyEnvFromFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	require.NoError(t, os.WriteFile(first, []byte("FABDECK_SERVER=http://a:3000\nFABDECK_VERBOSE=true\n"), 0600))
	require.NoError(t, os.WriteFile(second, []byte("FABDECK_SERVER=http://b:3000/\n"), 0600))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(first, filepath.Join(dir, "missing.env"), second))
	assert.Equal(t, "http://b:3000", cfg.ServerURL)
	assert.True(t, cfg.Verbose)
	assert.Empty(t, cfg.Token())
}

func TestApplyEnvProcessWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("FABDECK_SERVER=http://file:3000\n"), 0600))
	t.Setenv(EnvServer, "http://env:3000")
	t.Setenv(EnvToken, "env-token")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(file))
	assert.Equal(t, "http://env:3000", cfg.ServerURL)
	assert.Equal(t, "env-token", cfg.Token())
}

func TestApplyEnvBadVerbose(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVerbose, "sometimes")

	cfg := Default()
	assert.Error(t, cfg.ApplyEnv())
}

func TestPathsAt(t *testing.T) {
	dir := t.TempDir()
	paths := PathsAt(dir)
	assert.Equal(t, filepath.Join(dir, ConfigFileName), paths.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "layouts"), paths.LayoutsDir)
	assert.Equal(t, PathsIn(dir).ConfigDir, filepath.Join(dir, ConfigDirName))
}
