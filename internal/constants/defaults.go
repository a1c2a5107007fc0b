package constants

import "time"

// Transport defaults.
const (
	// DefaultMaxFrameSize bounds one envelope body (16 MiB).
	DefaultMaxFrameSize = 16 << 20

	// MinMaxFrameSize and MaxMaxFrameSize bound the configurable frame size.
	MinMaxFrameSize = 1 << 10
	MaxMaxFrameSize = 256 << 20

	DefaultDialTimeout = 10 * time.Second
	DefaultDialRetries = 3
)

// Decode defaults.
const (
	// DefaultDecodeWorkers bounds concurrent decode of distinct recordings
	// per target.
	DefaultDecodeWorkers = 4
)

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval    = 5 * time.Second
	DefaultHeartbeatTimeout     = 5 * time.Second
	DefaultHeartbeatMaxFailures = 3
)

// Command timeouts used by the CLI around single commands.
const (
	DefaultCommandTimeout = 10 * time.Second
	DefaultStopTimeout    = 30 * time.Second
)

// Target-side sampler defaults.
const (
	DefaultSampleInterval = 250 * time.Millisecond
	MinSampleInterval     = 10 * time.Millisecond
)

// Store drivers.
const (
	StoreDuckDB = "duckdb"
	StoreMemory = "memory"
)
