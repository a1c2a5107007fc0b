package testutil

import (
	"path/filepath"
	"testing"

	"github.com/coral-mesh/remoteprof/internal/duckdb"
	"github.com/coral-mesh/remoteprof/internal/store"
)

// NewTestStore opens a DuckDB recording store in a temporary directory.
// The store is closed when the test completes.
func NewTestStore(t *testing.T) *store.DuckDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "recordings.duckdb")
	st, err := store.OpenDuckDB(path, duckdb.Options{Threads: 1}, NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return st
}
