package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/remoteprof/internal/story"
)

// Seed writes entities (pointers to story entities) to st in one batch.
func Seed(t *testing.T, st story.Store, entities ...any) {
	t.Helper()
	ctx, cancel := NewTestContext()
	defer cancel()

	b, err := st.Begin(ctx)
	require.NoError(t, err)
	for _, e := range entities {
		require.NoError(t, b.CreateOrUpdate(ctx, e))
	}
	require.NoError(t, b.Commit())
}
