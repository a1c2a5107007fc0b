package config

import (
	"github.com/coral-mesh/remoteprof/internal/constants"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Log: LogConfig{
			Level: "info",
		},
		Store: StoreConfig{
			Driver: constants.StoreDuckDB,
		},
		Decode: DecodeConfig{
			Workers: constants.DefaultDecodeWorkers,
		},
		Transport: TransportConfig{
			MaxFrameSize: constants.DefaultMaxFrameSize,
			DialTimeout:  constants.DefaultDialTimeout,
			DialRetries:  constants.DefaultDialRetries,
		},
		Heartbeat: HeartbeatConfig{
			Interval:    constants.DefaultHeartbeatInterval,
			Timeout:     constants.DefaultHeartbeatTimeout,
			MaxFailures: constants.DefaultHeartbeatMaxFailures,
		},
	}
}
