package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kavach/kavach/pkg/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "https://api.kavach.app", cfg.BackendURL)
	require.Equal(t, "kavach", cfg.WearableName)
	require.Equal(t, "ffe0", cfg.ServiceUUID)
	require.Equal(t, "ffe1", cfg.NotifyUUID)
	require.Equal(t, 20*time.Second, cfg.ScanWindow)
	require.Equal(t, 10*time.Second, cfg.WearableWindow)
	require.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	require.Empty(t, cfg.DataDir)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
backend_url: http://localhost:3000
scan_window: 5s
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "http://localhost:3000", cfg.BackendURL)
	require.Equal(t, 5*time.Second, cfg.ScanWindow)
	// Untouched keys keep their defaults.
	require.Equal(t, "kavach", cfg.WearableName)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unclosed"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestResolveDataDirExplicit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := config.Default()
	cfg.DataDir = dir

	got, err := cfg.ResolveDataDir()
	require.NoError(t, err)
	require.Equal(t, dir, got)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewLoggerLevels(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	require.Equal(t, logrus.DebugLevel, cfg.NewLogger().GetLevel())

	// Garbage falls back to info rather than failing.
	cfg.LogLevel = "nonsense"
	require.Equal(t, logrus.InfoLevel, cfg.NewLogger().GetLevel())
}
