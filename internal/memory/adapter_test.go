package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/store"
)

// These tests cover the structured half and the degradation contract; the
// vector half runs against a stub embedder in vector_test.go.

func newTestAdapter(t *testing.T) (*Adapter, *store.Store) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewAdapter(s, nil, logger), s
}

func TestStore_WritesArtifactAndRecord(t *testing.T) {
	a, s := newTestAdapter(t)
	ctx := context.Background()

	art := &store.Artifact{
		Namespace:  "proj_a",
		FilePath:   "docs/spec.md",
		MemoryType: "functional_requirements",
	}
	version, err := a.Store(ctx, art, "the requirements")
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	version, err = a.Store(ctx, art, "the requirements, revised")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	records, err := s.RecentMemoryRecords(ctx, "proj_a", 10)
	require.NoError(t, err)
	require.Len(t, records, 2, "every store appends a record, overwrites included")
	assert.Equal(t, "the requirements, revised", records[0].Content)
	assert.Equal(t, "functional_requirements", records[0].MemoryType)
}

func TestStore_RejectsInvalidNamespace(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.Store(context.Background(), &store.Artifact{
		Namespace: "Bad NS", FilePath: "x.md", MemoryType: "t",
	}, "content")
	require.ErrorIs(t, err, oerrors.ErrInvalidNamespace)
}

func TestSearch_UnavailableWithoutVectorStore(t *testing.T) {
	a, _ := newTestAdapter(t)
	assert.False(t, a.VectorAvailable())

	_, err := a.Search(context.Background(), "proj_a", "query", 5)
	require.ErrorIs(t, err, oerrors.ErrStorageUnavailable)
	assert.True(t, oerrors.IsRetryable(err))

	var se *oerrors.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "vector", se.Store)
}

func TestRecent_NamespaceIsolation(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	for i, ns := range []string{"proj_a", "proj_a", "proj_b"} {
		_, err := a.Store(ctx, &store.Artifact{
			Namespace:  ns,
			FilePath:   fmt.Sprintf("docs/n%d.md", i),
			MemoryType: "functional_requirements",
		}, fmt.Sprintf("content for %s record %d", ns, i))
		require.NoError(t, err)
	}

	records, err := a.Recent(ctx, "proj_a", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "proj_a", r.Namespace, "recency must never cross namespaces")
	}

	records, err = a.Recent(ctx, "proj_b", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "content for proj_b record 2", records[0].Content)
}

func TestRecentAndPreferences_ValidateNamespace(t *testing.T) {
	a, s := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Recent(ctx, "Bad NS", 5)
	require.ErrorIs(t, err, oerrors.ErrInvalidNamespace)
	_, err = a.Preferences(ctx, "Bad NS")
	require.ErrorIs(t, err, oerrors.ErrInvalidNamespace)

	require.NoError(t, s.SetPreference(ctx, "proj_a", "tone", "formal"))
	prefs, err := a.Preferences(ctx, "proj_a")
	require.NoError(t, err)
	assert.Equal(t, "formal", prefs["tone"])
}
