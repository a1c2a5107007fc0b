package sdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/constants"
)

func TestParseProfilingConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ProfilingConfig
		wantErr string
	}{
		{
			name:  "empty uses defaults",
			input: "",
			want:  DefaultProfilingConfig(),
		},
		{
			name:  "overrides",
			input: "name: startup\nsample_interval: 50ms\nadvanced: true\nrecord_logs: false\n",
			want: ProfilingConfig{
				Name:           "startup",
				SampleInterval: 50 * time.Millisecond,
				Advanced:       true,
				RecordNetwork:  true,
				RecordLogs:     false,
			},
		},
		{
			name:    "interval below minimum",
			input:   "sample_interval: 1ms",
			wantErr: "below the minimum",
		},
		{
			name:    "malformed",
			input:   "advanced: [",
			wantErr: "invalid profiling configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProfilingConfig([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProfilingConfig_MarshalRoundTrip(t *testing.T) {
	cfg := ProfilingConfig{Name: "cold start", SampleInterval: time.Second, Advanced: true}
	data, err := cfg.Marshal()
	require.NoError(t, err)

	got, err := ParseProfilingConfig(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestDefaultProfilingConfig(t *testing.T) {
	cfg := DefaultProfilingConfig()
	assert.Equal(t, constants.DefaultSampleInterval, cfg.SampleInterval)
	assert.True(t, cfg.RecordNetwork)
	assert.True(t, cfg.RecordLogs)
	assert.False(t, cfg.Advanced)
}
