package config

import (
	"time"
)

// SchemaVersion is the configuration schema version.
const SchemaVersion = "1"

// Config represents ~/.remoteprof/config.yaml.
type Config struct {
	Version   string          `yaml:"version"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Decode    DecodeConfig    `yaml:"decode"`
	Transport TransportConfig `yaml:"transport"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" env:"REMOTEPROF_LOG_LEVEL"`
	// Pretty selects console output. Unset means "when stdout is a terminal".
	Pretty *bool `yaml:"pretty,omitempty" env:"REMOTEPROF_LOG_PRETTY"`
}

// StoreConfig selects the recording store.
type StoreConfig struct {
	// Driver is "duckdb" or "memory".
	Driver string `yaml:"driver" env:"REMOTEPROF_STORE_DRIVER"`
	// Path is the DuckDB file. Empty selects <config dir>/recordings.duckdb.
	Path string `yaml:"path,omitempty" env:"REMOTEPROF_STORE_PATH"`
	// Threads caps DuckDB worker threads (0 keeps the DuckDB default).
	Threads     int    `yaml:"threads,omitempty" env:"REMOTEPROF_STORE_THREADS"`
	MemoryLimit string `yaml:"memory_limit,omitempty" env:"REMOTEPROF_STORE_MEMORY_LIMIT"`
}

// DecodeConfig tunes story event decoding.
type DecodeConfig struct {
	Workers int `yaml:"workers" env:"REMOTEPROF_DECODE_WORKERS"`
}

// TransportConfig tunes target connections.
type TransportConfig struct {
	MaxFrameSize int           `yaml:"max_frame_size" env:"REMOTEPROF_MAX_FRAME_SIZE"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REMOTEPROF_DIAL_TIMEOUT"`
	DialRetries  int           `yaml:"dial_retries" env:"REMOTEPROF_DIAL_RETRIES"`
}

// HeartbeatConfig tunes target liveness checks. A zero interval disables
// them.
type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval" env:"REMOTEPROF_HEARTBEAT_INTERVAL"`
	Timeout     time.Duration `yaml:"timeout" env:"REMOTEPROF_HEARTBEAT_TIMEOUT"`
	MaxFailures int           `yaml:"max_failures" env:"REMOTEPROF_HEARTBEAT_MAX_FAILURES"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" env:"REMOTEPROF_METRICS_ADDR"`
}
