package store

import (
	"context"
	"fmt"
	"time"
)

// MemoryRecord is a structured record used for recency-based retrieval.
// The same content is mirrored into the vector store for semantic search;
// records are read-only once written.
type MemoryRecord struct {
	ID         string
	Namespace  string
	Content    string
	MemoryType string
	FilePath   string
	CreatedAt  int64 // unix ms
}

// InsertMemoryRecord appends a memory record.
func (s *Store) InsertMemoryRecord(ctx context.Context, r *MemoryRecord) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO memory_records (id, namespace, content, memory_type, file_path, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Namespace, r.Content, r.MemoryType, r.FilePath, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory record: %w", err)
	}
	return nil
}

// RecentMemoryRecords returns the newest records for a namespace,
// independent of semantic similarity.
func (s *Store) RecentMemoryRecords(ctx context.Context, namespace string, limit int) ([]*MemoryRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, namespace, content, memory_type, file_path, created_at
	FROM memory_records
	WHERE namespace = ?
	ORDER BY created_at DESC
	LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory records: %w", err)
	}
	defer rows.Close()

	var records []*MemoryRecord
	for rows.Next() {
		r := &MemoryRecord{}
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Content, &r.MemoryType, &r.FilePath, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetPreference upserts one user/project preference.
func (s *Store) SetPreference(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO preferences (namespace, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to set preference: %w", err)
	}
	return nil
}

// Preferences returns all preferences for a namespace.
func (s *Store) Preferences(ctx context.Context, namespace string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM preferences WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs[k] = v
	}
	return prefs, rows.Err()
}
