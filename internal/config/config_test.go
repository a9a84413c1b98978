package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDirHonorsEnvironment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "home")
	t.Setenv(HomeEnvironmentVariable, dir)

	configDir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, dir, configDir)
	assert.DirExists(t, dir)

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)
}

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", FileName)

	config, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, DefaultConfig.Syncthing, config.Syncthing)
	assert.Equal(t, DefaultConfig.Scheduler, config.Scheduler)
	assert.Equal(t, DefaultConfig.Engine, config.Engine)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Syncthing, reloaded.Syncthing)
	assert.Equal(t, 200*time.Millisecond, reloaded.Scheduler.Tick)
}

func TestLoadFillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	contents := "[Syncthing]\nIP = 10.0.0.2:22000\nIsServer = true\n; kept\nCustom = value\n\n[Engine]\nHealthInterval = 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:22000", config.Syncthing.IP)
	assert.True(t, config.Syncthing.IsServer)
	assert.Equal(t, "Wrapper", config.Syncthing.Name)
	assert.Equal(t, uint64(0), config.LastEvent())
	assert.Equal(t, 30*time.Second, config.Engine.HealthInterval)
	assert.Equal(t, 10*time.Second, config.Engine.EventsInterval)
	assert.Equal(t, 20, config.Scheduler.Capacity)
}

func TestPersistedSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	contents := "[Syncthing]\nIP = 10.0.0.2:22000\nCustom = value\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	config, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, config.SetLastEvent(81))
	require.NoError(t, config.SetName("kiosk"))
	require.NoError(t, config.SetRole(true))
	require.NoError(t, config.SetPeerAddress("10.0.0.9:22000"))
	assert.Equal(t, uint64(81), config.LastEvent())
	assert.Equal(t, "kiosk", config.DisplayName())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(81), reloaded.LastEvent())
	assert.Equal(t, "kiosk", reloaded.DisplayName())
	assert.True(t, reloaded.Syncthing.IsServer)
	assert.Equal(t, "10.0.0.9:22000", reloaded.PeerAddress())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Custom")
	assert.NoFileExists(t, path+".tmp")
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("[Scheduler]\nTimeout = soon\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSnapshotsPath(t *testing.T) {
	dir := t.TempDir()
	config, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshots.db"), config.SnapshotsPath())

	config.Engine.Snapshots = "/var/lib/syncpair/snapshots.db"
	assert.Equal(t, "/var/lib/syncpair/snapshots.db", config.SnapshotsPath())
}

func TestReloadKeepsNewerCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	config, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, config.SetLastEvent(40))

	edited, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, edited.SetName("kiosk"))

	config.Syncthing.Event = 55
	require.NoError(t, config.Reload())
	assert.Equal(t, "kiosk", config.DisplayName())
	assert.Equal(t, uint64(55), config.LastEvent())

	require.NoError(t, config.SetLastEvent(56))
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kiosk", reloaded.DisplayName())
	assert.Equal(t, uint64(56), reloaded.LastEvent())
}

func TestSettingsDuringReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	config, err := Load(path)
	require.NoError(t, err)
	edited, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, edited.SetRole(true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			assert.NoError(t, config.Reload())
		}
	}()
	for i := 0; i < 50; i++ {
		settings := config.Settings()
		assert.Equal(t, DefaultConfig.Scheduler.Capacity, settings.Scheduler.Capacity)
		assert.NotEmpty(t, config.SnapshotsPath())
	}
	<-done

	assert.True(t, config.Settings().Syncthing.IsServer)
}
