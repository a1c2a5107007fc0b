// Package version provides build and protocol version information.
package version

import (
	"fmt"
	"runtime"
)

// ProtocolVersion is the wire protocol revision spoken by host and target.
// Targets report it in their device info.
const ProtocolVersion = "1"

var (
	// Version is the semantic version (set by build flags)
	Version = "dev"

	// GitCommit is the git commit hash (set by build flags)
	GitCommit = "unknown"

	// BuildDate is the build timestamp (set by build flags)
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// String returns a one-line description of the build.
func String() string {
	return fmt.Sprintf("remoteprof %s (commit %s, built %s, %s, protocol %s)",
		Version, GitCommit, BuildDate, GoVersion, ProtocolVersion)
}
