package store

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry records an operator action that bypasses normal flow, such as
// a forced phase transition or a namespace cancellation.
type AuditEntry struct {
	ID        int64
	Namespace string
	Actor     string
	Action    string
	Detail    string
	CreatedAt int64
}

// AppendAudit writes an audit entry.
func (s *Store) AppendAudit(ctx context.Context, namespace, actor, action, detail string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_log (namespace, actor, action, detail, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		namespace, actor, action, detail, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditTrail returns the newest audit entries for a namespace.
func (s *Store) AuditTrail(ctx context.Context, namespace string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, namespace, actor, action, detail, created_at
	FROM audit_log
	WHERE namespace = ?
	ORDER BY created_at DESC
	LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Actor, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
