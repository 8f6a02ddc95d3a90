package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

// ProjectStatus is the lifecycle state of a project row.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCancelled ProjectStatus = "cancelled"
	ProjectClosed    ProjectStatus = "closed"
)

// Project is the single authoritative record for one namespace. The phase
// column is mutated only through the phase state machine, never directly
// by workers.
type Project struct {
	Namespace string
	Name      string
	RootPath  string
	Goal      string
	Phase     string
	Status    ProjectStatus
	Progress  string // JSON: files produced, percent complete, next actions
	CreatedAt int64  // unix ms
	UpdatedAt int64
	ClosedAt  int64 // 0 = open
}

const projectColumns = `namespace, name, root_path, goal, phase, status, progress, created_at, updated_at, closed_at`

// CreateProject inserts a new project row. Returns ErrInvalidStateTransition
// wrapped if the namespace already exists.
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = ProjectActive
	}
	if p.Progress == "" {
		p.Progress = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO projects (namespace, name, root_path, goal, phase, status, progress, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Namespace, p.Name, p.RootPath, p.Goal, p.Phase, string(p.Status), p.Progress, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("project %q already exists: %w", p.Namespace, oerrors.ErrInvalidStateTransition)
		}
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by namespace. Returns ErrNotFound when
// the namespace is unknown.
func (s *Store) GetProject(ctx context.Context, namespace string) (*Project, error) {
	p := &Project{}
	var status string
	var closedAt sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE namespace = ?`, namespace,
	).Scan(&p.Namespace, &p.Name, &p.RootPath, &p.Goal, &p.Phase, &status, &p.Progress,
		&p.CreatedAt, &p.UpdatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("namespace %q: %w", namespace, oerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	p.Status = ProjectStatus(status)
	if closedAt.Valid {
		p.ClosedAt = closedAt.Int64
	}
	return p, nil
}

// ListProjects lists all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p := &Project{}
		var status string
		var closedAt sql.NullInt64
		if err := rows.Scan(&p.Namespace, &p.Name, &p.RootPath, &p.Goal, &p.Phase, &status,
			&p.Progress, &p.CreatedAt, &p.UpdatedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Status = ProjectStatus(status)
		if closedAt.Valid {
			p.ClosedAt = closedAt.Int64
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AdvanceProjectPhase moves the project from one phase to the next with a
// conditional update, so two concurrent advances cannot both succeed.
func (s *Store) AdvanceProjectPhase(ctx context.Context, namespace, fromPhase, toPhase string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE projects SET phase = ?, updated_at = ?
	WHERE namespace = ? AND phase = ? AND status = 'active'`,
		toPhase, time.Now().UnixMilli(), namespace, fromPhase,
	)
	if err != nil {
		return fmt.Errorf("failed to advance phase: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Either the namespace is unknown, the phase moved underneath us,
		// or the project is no longer active.
		if _, getErr := s.GetProject(ctx, namespace); getErr != nil {
			return getErr
		}
		return fmt.Errorf("phase of %q is no longer %q: %w", namespace, fromPhase, oerrors.ErrInvalidStateTransition)
	}
	return nil
}

// SetProjectPhase sets the phase unconditionally (explicit human override).
func (s *Store) SetProjectPhase(ctx context.Context, namespace, toPhase string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET phase = ?, updated_at = ? WHERE namespace = ?`,
		toPhase, time.Now().UnixMilli(), namespace,
	)
	if err != nil {
		return fmt.Errorf("failed to set phase: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("namespace %q: %w", namespace, oerrors.ErrNotFound)
	}
	return nil
}

// UpdateProjectProgress replaces the free-form progress structure.
func (s *Store) UpdateProjectProgress(ctx context.Context, namespace, progressJSON string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET progress = ?, updated_at = ? WHERE namespace = ?`,
		progressJSON, time.Now().UnixMilli(), namespace,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("namespace %q: %w", namespace, oerrors.ErrNotFound)
	}
	return nil
}

// CloseProject soft-closes a finished project. The row is retained.
func (s *Store) CloseProject(ctx context.Context, namespace string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
	UPDATE projects SET status = 'closed', closed_at = ?, updated_at = ?
	WHERE namespace = ? AND status = 'active'`,
		now, now, namespace,
	)
	if err != nil {
		return fmt.Errorf("failed to close project: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetProject(ctx, namespace); getErr != nil {
			return getErr
		}
		return fmt.Errorf("project %q is not active: %w", namespace, oerrors.ErrInvalidStateTransition)
	}
	return nil
}

// CancelProject marks a project cancelled and fails all of its live tasks
// with reason=cancelled, without retries. Workers that later try to claim
// or complete tasks for this namespace are rejected.
func (s *Store) CancelProject(ctx context.Context, namespace, reason string) (int64, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cancel: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	UPDATE projects SET status = 'cancelled', updated_at = ?
	WHERE namespace = ? AND status = 'active'`,
		now, namespace,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel project: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetProject(ctx, namespace); getErr != nil {
			return 0, getErr
		}
		return 0, fmt.Errorf("project %q is not active: %w", namespace, oerrors.ErrNamespaceCancelled)
	}

	taskRes, err := tx.ExecContext(ctx, `
	UPDATE tasks SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
	WHERE namespace = ? AND status IN ('pending', 'in_progress')`,
		"cancelled: "+reason, now, now, namespace,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel tasks: %w", err)
	}
	cancelled, err := taskRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cancel: %w", err)
	}

	s.logger.Info().Str("namespace", namespace).Int64("tasks_cancelled", cancelled).Msg("namespace cancelled")
	return cancelled, nil
}
