// Package memory unifies the structured record store and the vector
// similarity store behind one namespaced query interface.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/namespace"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/store"
)

// Adapter is the memory store adapter. The structured side is mandatory;
// the vector side may be nil, in which case Search reports
// ErrStorageUnavailable and callers degrade to structured-only context.
type Adapter struct {
	store  *store.Store
	vector *VectorStore
	logger zerolog.Logger
}

// NewAdapter creates an Adapter. vector may be nil.
func NewAdapter(s *store.Store, vector *VectorStore, logger zerolog.Logger) *Adapter {
	return &Adapter{
		store:  s,
		vector: vector,
		logger: logger.With().Str("component", "memory_adapter").Logger(),
	}
}

// VectorAvailable reports whether semantic search is configured.
func (a *Adapter) VectorAvailable() bool {
	return a.vector != nil
}

// Store upserts an artifact, appends the matching memory record, and
// mirrors the content into the vector store. Artifact versions only
// increase; superseded versions are archived, never deleted. Re-storing
// identical content keeps the current version and appends nothing, which
// makes completion replay safe. A vector write failure is non-fatal:
// structured retrieval still works.
func (a *Adapter) Store(ctx context.Context, art *store.Artifact, content string) (int, error) {
	if !namespace.Validate(art.Namespace) {
		return 0, fmt.Errorf("namespace %q: %w", art.Namespace, oerrors.ErrInvalidNamespace)
	}
	if art.ContentHash == "" && content != "" {
		sum := sha256.Sum256([]byte(content))
		art.ContentHash = hex.EncodeToString(sum[:])
	}

	version, updated, err := a.store.StoreArtifact(ctx, art)
	if err != nil {
		return 0, err
	}
	if !updated {
		return version, nil
	}

	recID := uuid.New().String()
	rec := &store.MemoryRecord{
		ID:         recID,
		Namespace:  art.Namespace,
		Content:    content,
		MemoryType: art.MemoryType,
		FilePath:   art.FilePath,
	}
	if err := a.store.InsertMemoryRecord(ctx, rec); err != nil {
		return 0, err
	}

	if a.vector != nil && content != "" {
		meta := map[string]string{
			"memory_type": art.MemoryType,
			"file_path":   art.FilePath,
		}
		if err := a.vector.Add(ctx, art.Namespace, recID, content, meta); err != nil {
			a.logger.Warn().Err(err).
				Str("namespace", art.Namespace).
				Str("file_path", art.FilePath).
				Msg("vector write failed, structured record kept")
		}
	}

	return version, nil
}

// Search performs semantic nearest-neighbor search scoped strictly to the
// namespace. Returns ErrStorageUnavailable when no vector store is
// configured, so callers can flag degraded context instead of silently
// returning nothing.
func (a *Adapter) Search(ctx context.Context, ns, query string, k int) ([]Hit, error) {
	if !namespace.Validate(ns) {
		return nil, fmt.Errorf("namespace %q: %w", ns, oerrors.ErrInvalidNamespace)
	}
	if a.vector == nil {
		return nil, oerrors.NewStoreError("vector", "search", oerrors.ErrStorageUnavailable)
	}
	hits, err := a.vector.Search(ctx, ns, query, k)
	if err != nil {
		return nil, oerrors.NewStoreError("vector", "search",
			fmt.Errorf("%w: %v", oerrors.ErrStorageUnavailable, err))
	}
	return hits, nil
}

// Recent returns the newest structured records for the namespace,
// independent of semantic similarity.
func (a *Adapter) Recent(ctx context.Context, ns string, limit int) ([]*store.MemoryRecord, error) {
	if !namespace.Validate(ns) {
		return nil, fmt.Errorf("namespace %q: %w", ns, oerrors.ErrInvalidNamespace)
	}
	return a.store.RecentMemoryRecords(ctx, ns, limit)
}

// Preferences returns the stored user/project preferences.
func (a *Adapter) Preferences(ctx context.Context, ns string) (map[string]string, error) {
	if !namespace.Validate(ns) {
		return nil, fmt.Errorf("namespace %q: %w", ns, oerrors.ErrInvalidNamespace)
	}
	return a.store.Preferences(ctx, ns)
}
