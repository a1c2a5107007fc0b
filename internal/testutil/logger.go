package testutil

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// VerboseLogsEnv routes test logs to t.Log when set.
const VerboseLogsEnv = "REMOTEPROF_TEST_LOGS"

// NewTestLogger returns a debug-level logger for t. Output is discarded
// unless REMOTEPROF_TEST_LOGS is set, in which case it goes to t.Log.
func NewTestLogger(t testing.TB) zerolog.Logger {
	var w io.Writer = io.Discard
	if os.Getenv(VerboseLogsEnv) != "" {
		w = zerolog.NewTestWriter(t)
	}
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Str("test", t.Name()).Logger()
}
