package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Config(t *testing.T) {
	t.Setenv("REMOTEPROF_LOG_LEVEL", "trace")
	t.Setenv("REMOTEPROF_LOG_PRETTY", "true")
	t.Setenv("REMOTEPROF_STORE_DRIVER", "memory")
	t.Setenv("REMOTEPROF_DECODE_WORKERS", "2")
	t.Setenv("REMOTEPROF_MAX_FRAME_SIZE", "4MiB")
	t.Setenv("REMOTEPROF_HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("REMOTEPROF_METRICS_ADDR", ":9464")

	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, "trace", cfg.Log.Level)
	require.NotNil(t, cfg.Log.Pretty)
	assert.True(t, *cfg.Log.Pretty)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Decode.Workers)
	assert.Equal(t, 4<<20, cfg.Transport.MaxFrameSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Heartbeat.Interval)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadFromEnv_EmptyLeavesDefaults(t *testing.T) {
	t.Setenv("REMOTEPROF_LOG_LEVEL", "")

	cfg := Default()
	require.NoError(t, LoadFromEnv(cfg))
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.Log.Pretty)
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		want string
	}{
		{"duration", "REMOTEPROF_DIAL_TIMEOUT", "soon", "invalid duration"},
		{"integer", "REMOTEPROF_DECODE_WORKERS", "many", "invalid integer"},
		{"boolean", "REMOTEPROF_LOG_PRETTY", "sometimes", "invalid boolean"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			err := LoadFromEnv(Default())
			assert.ErrorContains(t, err, tt.want)
			assert.ErrorContains(t, err, tt.env)
		})
	}
}

func TestLoadFromEnv_NilAndNonStruct(t *testing.T) {
	var cfg *Config
	assert.NoError(t, LoadFromEnv(cfg))
	n := 3
	assert.NoError(t, LoadFromEnv(&n))
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"1024", 1024, true},
		{"2KiB", 2048, true},
		{"16MiB", 16 << 20, true},
		{"1GiB", 1 << 30, true},
		{"x MiB", 0, false},
		{"1.5", 0, false},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
