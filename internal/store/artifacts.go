package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

// Artifact is a named, versioned output bound to a namespace and file path.
// Overwrites supersede, never delete: the prior version is copied into
// artifact_history and the version strictly increases.
type Artifact struct {
	Namespace   string
	FilePath    string
	MemoryType  string
	Description string
	ContentHash string
	Version     int
	CreatedAt   int64 // unix ms
	UpdatedAt   int64
}

const artifactColumns = `namespace, file_path, memory_type, description, content_hash, version, created_at, updated_at`

// StoreArtifact upserts an artifact and returns its version plus whether a
// write happened. Re-storing identical content (same non-empty content
// hash) is a no-op keeping the current version, so completion replay never
// inflates versions. The version increment is a single conditional upsert,
// atomic at the database level; the superseded row is archived in the same
// transaction.
func (s *Store) StoreArtifact(ctx context.Context, a *Artifact) (int, bool, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin artifact upsert: %w", err)
	}
	defer tx.Rollback()

	if a.ContentHash != "" {
		var version int
		err := tx.QueryRowContext(ctx, `
		SELECT version FROM artifacts
		WHERE namespace = ? AND file_path = ? AND content_hash = ?`,
			a.Namespace, a.FilePath, a.ContentHash,
		).Scan(&version)
		if err == nil {
			a.Version = version
			return version, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, fmt.Errorf("failed to check artifact hash: %w", err)
		}
	}

	// Archive the current version first so history is complete even if the
	// same path is overwritten many times.
	_, err = tx.ExecContext(ctx, `
	INSERT OR IGNORE INTO artifact_history (namespace, file_path, version, memory_type, description, content_hash, created_at)
	SELECT namespace, file_path, version, memory_type, description, content_hash, updated_at
	FROM artifacts WHERE namespace = ? AND file_path = ?`,
		a.Namespace, a.FilePath,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to archive artifact: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
	INSERT INTO artifacts (namespace, file_path, memory_type, description, content_hash, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(namespace, file_path) DO UPDATE SET
		memory_type  = excluded.memory_type,
		description  = excluded.description,
		content_hash = excluded.content_hash,
		version      = artifacts.version + 1,
		updated_at   = excluded.updated_at
	RETURNING version`,
		a.Namespace, a.FilePath, a.MemoryType, a.Description, a.ContentHash, now, now,
	).Scan(&version)
	if err != nil {
		return 0, false, fmt.Errorf("failed to store artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit artifact upsert: %w", err)
	}

	a.Version = version
	a.UpdatedAt = now
	return version, true, nil
}

// GetArtifact retrieves the current version of an artifact.
func (s *Store) GetArtifact(ctx context.Context, namespace, filePath string) (*Artifact, error) {
	a := &Artifact{}
	err := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE namespace = ? AND file_path = ?`,
		namespace, filePath,
	).Scan(&a.Namespace, &a.FilePath, &a.MemoryType, &a.Description, &a.ContentHash,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("artifact %s/%s: %w", namespace, filePath, oerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// ArtifactTypesPresent reports which of the given memory types exist in the
// namespace. One batched query regardless of how many types are required.
func (s *Store) ArtifactTypesPresent(ctx context.Context, namespace string, types []string) (map[string]bool, error) {
	present := make(map[string]bool, len(types))
	if len(types) == 0 {
		return present, nil
	}

	placeholders := strings.Repeat("?,", len(types))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, namespace)
	for _, t := range types {
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT DISTINCT memory_type FROM artifacts
	WHERE namespace = ? AND memory_type IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mt string
		if err := rows.Scan(&mt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact type: %w", err)
		}
		present[mt] = true
	}
	return present, rows.Err()
}

// CountArtifacts returns the number of current artifacts in a namespace.
func (s *Store) CountArtifacts(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count artifacts: %w", err)
	}
	return n, nil
}

// RecentArtifacts returns the most recently updated artifacts in a namespace.
func (s *Store) RecentArtifacts(ctx context.Context, namespace string, limit int) ([]*Artifact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+artifactColumns+` FROM artifacts
	WHERE namespace = ?
	ORDER BY updated_at DESC
	LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a := &Artifact{}
		if err := rows.Scan(&a.Namespace, &a.FilePath, &a.MemoryType, &a.Description,
			&a.ContentHash, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
