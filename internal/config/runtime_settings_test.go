package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeSettings_Validate(t *testing.T) {
	valid := RuntimeSettings{
		MonitorIntervalSeconds: 5,
		ArchiveCron:            "*/5 * * * *",
	}
	require.NoError(t, valid.Validate())

	invalid := valid
	invalid.ArchiveCron = "bad cron"
	require.Error(t, invalid.Validate())

	invalidInterval := valid
	invalidInterval.MonitorIntervalSeconds = 0
	require.Error(t, invalidInterval.Validate())
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "settings", "runtime.json")
	input := RuntimeSettings{
		MonitorIntervalSeconds: 3,
		ArchiveCron:            "@hourly",
	}

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONITOR_INTERVAL", "7")
	t.Setenv("ARCHIVE_CRON", "0 1 * * *")

	cfg, err := NewFromEnv(WithRuntimeSettings(RuntimeSettings{
		MonitorIntervalSeconds: 2,
		ArchiveCron:            "*/30 * * * *",
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, "*/30 * * * *", cfg.Archive.CronExpr)
	assert.Equal(t, cfg.RuntimeSettings(), RuntimeSettings{MonitorIntervalSeconds: 2, ArchiveCron: "*/30 * * * *"})

	cfg, err = NewFromEnv(WithRuntimeSettings(RuntimeSettings{}))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Monitor.IntervalSeconds)
	assert.Equal(t, "0 1 * * *", cfg.Archive.CronExpr)
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "runtime-settings.json")
	initial := RuntimeSettings{MonitorIntervalSeconds: 5, ArchiveCron: "0 0 * * *"}

	store, err := NewRuntimeSettingsStore(filePath, initial)
	require.NoError(t, err)

	next := RuntimeSettings{MonitorIntervalSeconds: 1, ArchiveCron: "*/10 * * * *"}
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{MonitorIntervalSeconds: -1, ArchiveCron: "@daily"})
	require.Error(t, err)
	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, next, current)
}

func TestNewRuntimeSettingsStore_RequiresPath(t *testing.T) {
	_, err := NewRuntimeSettingsStore(" ", RuntimeSettings{MonitorIntervalSeconds: 5, ArchiveCron: "@daily"})
	assert.Error(t, err)
}
