package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eavstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 6000
journal:
  path: /tmp/world.journal
  checkpoint_interval: 30s
log:
  level: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort, "unset fields keep defaults")
	assert.Equal(t, "/tmp/world.journal", cfg.Journal.Path)
	assert.Equal(t, 30*time.Second, cfg.GetCheckpointInterval())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EAVSTORE_JOURNAL", "/var/lib/eav.journal")
	path := filepath.Join(t.TempDir(), "eavstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/eav.journal", cfg.Journal.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eavstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal:\n  checkpoint_interval: soon\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "checkpoint_interval")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "eavstore.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 7000
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
