package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDirOverride(t *testing.T) {
	original := os.Getenv("CACHEFS_CONFIG_DIR")
	t.Cleanup(func() { os.Setenv("CACHEFS_CONFIG_DIR", original) })

	os.Setenv("CACHEFS_CONFIG_DIR", "/tmp/test-cachefs-config")
	assert.Equal(t, "/tmp/test-cachefs-config", ConfigDir())
}

func TestLoadGlobalSettingsFallsBackToDefaults(t *testing.T) {
	original := os.Getenv("CACHEFS_CONFIG_DIR")
	t.Cleanup(func() { os.Setenv("CACHEFS_CONFIG_DIR", original) })
	os.Setenv("CACHEFS_CONFIG_DIR", t.TempDir())

	settings, err := LoadGlobalSettings()
	require.NoError(t, err)
	assert.Equal(t, "info", settings.LogLevel)
}

func TestGlobalSettingsSaveAndReload(t *testing.T) {
	original := os.Getenv("CACHEFS_CONFIG_DIR")
	t.Cleanup(func() { os.Setenv("CACHEFS_CONFIG_DIR", original) })
	os.Setenv("CACHEFS_CONFIG_DIR", t.TempDir())

	settings := &GlobalSettings{LogLevel: "debug", DaemonBusyTimeout: 5000}
	require.NoError(t, settings.Save())

	reloaded, err := LoadGlobalSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", reloaded.LogLevel)
	assert.Equal(t, 5000, reloaded.DaemonBusyTimeout)
}

func TestLoadMountConfigMissingFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadMountConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.BusyTimeoutMS)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestMountConfigSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := &MountConfig{BackendRoot: "/srv/backend", CacheDir: filepath.Join(dir, "cache")}
	require.NoError(t, cfg.Save(dir))

	reloaded, err := LoadMountConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/backend", reloaded.BackendRoot)
	assert.Equal(t, 30000, reloaded.BusyTimeoutMS, "defaults applied on load")
}
