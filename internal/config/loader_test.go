package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/constants"
)

func TestLoader_MissingFileYieldsDefaults(t *testing.T) {
	l := NewLoaderAt(t.TempDir())

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, cfg.Version)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.Log.Pretty)
	assert.Equal(t, constants.StoreDuckDB, cfg.Store.Driver)
	assert.Equal(t, l.DatabasePath(), cfg.Store.Path)
	assert.Equal(t, constants.DefaultDecodeWorkers, cfg.Decode.Workers)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_ReadsFile(t *testing.T) {
	l := NewLoaderAt(t.TempDir())
	require.NoError(t, os.MkdirAll(l.Dir(), 0755))

	yamlData := `
version: "1"
log:
  level: debug
  pretty: false
store:
  driver: memory
decode:
  workers: 8
transport:
  max_frame_size: 1048576
  dial_timeout: 3s
heartbeat:
  interval: 0s
`
	require.NoError(t, os.WriteFile(l.ConfigPath(), []byte(yamlData), 0600))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NotNil(t, cfg.Log.Pretty)
	assert.False(t, *cfg.Log.Pretty)
	assert.Equal(t, constants.StoreMemory, cfg.Store.Driver)
	assert.Empty(t, cfg.Store.Path)
	assert.Equal(t, 8, cfg.Decode.Workers)
	assert.Equal(t, 1<<20, cfg.Transport.MaxFrameSize)
	assert.Equal(t, 3*time.Second, cfg.Transport.DialTimeout)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, constants.DefaultDialRetries, cfg.Transport.DialRetries)
	assert.Zero(t, cfg.Heartbeat.Interval)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_InvalidYAML(t *testing.T) {
	l := NewLoaderAt(t.TempDir())
	require.NoError(t, os.MkdirAll(l.Dir(), 0755))
	require.NoError(t, os.WriteFile(l.ConfigPath(), []byte("log: [unclosed"), 0600))

	_, err := l.Load()
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	l := NewLoaderAt(t.TempDir())

	cfg := Default()
	cfg.Log.Level = "warn"
	cfg.Metrics.Addr = "127.0.0.1:9464"
	require.NoError(t, l.Save(cfg))

	_, err := os.Stat(filepath.Join(l.Dir(), constants.ConfigFile))
	require.NoError(t, err)

	loaded, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", loaded.Log.Level)
	assert.Equal(t, "127.0.0.1:9464", loaded.Metrics.Addr)

	cfg.Decode.Workers = 0
	assert.Error(t, l.Save(cfg))
}

func TestNewLoader_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(constants.ConfigDirEnv, dir)

	l := NewLoader()
	assert.Equal(t, filepath.Join(dir, constants.DefaultDir), l.Dir())
}
