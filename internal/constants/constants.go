// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".remoteprof"

	DefaultDatabaseFile = "recordings.duckdb"

	// ConfigDirEnv overrides the base directory holding DefaultDir.
	ConfigDirEnv = "REMOTEPROF_CONFIG"

	// DefaultListenAddr is where the demo target listens.
	DefaultListenAddr = "127.0.0.1:7330"
)
