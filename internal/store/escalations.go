package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Escalation is a durable needs-human-attention record, written when a
// task exhausts its retries or a claim times out past the retry bound.
// Escalations are never dropped; an operator resolves them explicitly.
type Escalation struct {
	ID         string
	Namespace  string
	TaskID     string
	Reason     string
	Details    string
	CreatedAt  int64
	ResolvedAt int64 // 0 = unresolved
}

// SaveEscalation inserts an escalation record.
func (s *Store) SaveEscalation(ctx context.Context, e *Escalation) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO escalations (id, namespace, task_id, reason, details, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Namespace,
		sql.NullString{String: e.TaskID, Valid: e.TaskID != ""},
		e.Reason, e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save escalation: %w", err)
	}
	s.logger.Warn().
		Str("namespace", e.Namespace).
		Str("task_id", e.TaskID).
		Str("reason", e.Reason).
		Msg("escalation recorded")
	return nil
}

// OpenEscalations lists unresolved escalations, optionally scoped to one
// namespace.
func (s *Store) OpenEscalations(ctx context.Context, namespace string) ([]*Escalation, error) {
	query := `
	SELECT id, namespace, task_id, reason, details, created_at, resolved_at
	FROM escalations WHERE resolved_at IS NULL`
	var args []interface{}
	if namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, namespace)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*Escalation
	for rows.Next() {
		e := &Escalation{}
		var taskID sql.NullString
		var resolvedAt sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Namespace, &taskID, &e.Reason, &e.Details, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		if taskID.Valid {
			e.TaskID = taskID.String
		}
		if resolvedAt.Valid {
			e.ResolvedAt = resolvedAt.Int64
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// ResolveEscalation marks an escalation as handled.
func (s *Store) ResolveEscalation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE escalations SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("escalation not found or already resolved: %s", id)
	}
	return nil
}
