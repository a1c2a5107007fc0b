package sdk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/remoteprof/internal/constants"
)

// Config contains SDK configuration options.
type Config struct {
	// Listen is the TCP address Start listens on.
	Listen string

	// AppName and DeviceName are reported in device info. They default to
	// the executable name and the host name.
	AppName    string
	DeviceName string

	// DeviceInfo holds extra device info keys.
	DeviceInfo map[string]string

	// MaxFrameSize bounds incoming frames (0 selects the wire default).
	MaxFrameSize int

	// Sampler measures the process. Defaults to a gopsutil process sampler.
	Sampler Sampler

	// Logger is the logger instance (optional, defaults to zerolog.Nop()).
	Logger zerolog.Logger
}

// ProfilingConfig is the profiling configuration a host sends with
// StartProfilingWithConfiguration, as YAML.
type ProfilingConfig struct {
	// Name labels the recording.
	Name string `yaml:"name"`
	// SampleInterval is the period of performance samples.
	SampleInterval time.Duration `yaml:"sample_interval"`
	// Advanced adds thread counts and the open group stack to samples.
	Advanced bool `yaml:"advanced"`
	// RecordNetwork and RecordLogs gate network and log events.
	RecordNetwork bool `yaml:"record_network"`
	RecordLogs    bool `yaml:"record_logs"`
}

// DefaultProfilingConfig returns the configuration used for an empty
// configuration payload.
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		SampleInterval: constants.DefaultSampleInterval,
		RecordNetwork:  true,
		RecordLogs:     true,
	}
}

// ParseProfilingConfig decodes a YAML profiling configuration on top of the
// defaults.
func ParseProfilingConfig(data []byte) (ProfilingConfig, error) {
	cfg := DefaultProfilingConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return ProfilingConfig{}, fmt.Errorf("invalid profiling configuration: %w", err)
		}
	}
	if cfg.SampleInterval < constants.MinSampleInterval {
		return ProfilingConfig{}, fmt.Errorf("sample_interval %s is below the minimum %s",
			cfg.SampleInterval, constants.MinSampleInterval)
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c ProfilingConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
