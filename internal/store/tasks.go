package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

// TaskStatus is the lifecycle state of a task row.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task is one unit of delegated work addressed to a logical agent role.
//
// Priority convention: lower value = more urgent. Claim ordering is
// priority ASC, created_at ASC. Task rows are append-only history: a retry
// is a new row with an incremented attempt, never a resurrected one.
type Task struct {
	ID          string
	Namespace   string
	FromAgent   string
	ToAgent     string
	TaskType    string
	Payload     string // JSON
	Status      TaskStatus
	Priority    int
	Attempt     int
	Result      string // JSON, empty until completed
	Error       string
	CreatedAt   int64 // unix ms
	UpdatedAt   int64
	StartedAt   int64 // 0 = never claimed
	CompletedAt int64 // 0 = not terminal
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Namespace string
	Status    TaskStatus
	ToAgent   string
	Limit     int
}

const taskColumns = `id, namespace, from_agent, to_agent, task_type, payload, status, priority, attempt,
       result, error, created_at, updated_at, started_at, completed_at`

// InsertTask inserts a new pending task row.
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	now := time.Now().UnixMilli()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Attempt == 0 {
		t.Attempt = 1
	}
	if t.Payload == "" {
		t.Payload = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO tasks (id, namespace, from_agent, to_agent, task_type, payload, status, priority, attempt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Namespace, t.FromAgent, t.ToAgent, t.TaskType, t.Payload,
		string(t.Status), t.Priority, t.Attempt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// ClaimTask atomically selects the most urgent pending task addressed to
// agentRole (optionally scoped to one namespace) and transitions it to
// in_progress. The whole claim is a single conditional UPDATE returning
// the row, so two concurrent claimers can never both receive the same
// task. Returns (nil, nil) when no eligible task exists; callers poll
// with backoff.
//
// Tasks in cancelled or closed namespaces are never eligible.
func (s *Store) ClaimTask(ctx context.Context, agentRole, namespace string) (*Task, error) {
	now := time.Now().UnixMilli()

	query := `
	UPDATE tasks SET status = 'in_progress', started_at = ?, updated_at = ?
	WHERE id = (
		SELECT t.id FROM tasks t
		JOIN projects p ON p.namespace = t.namespace
		WHERE t.status = 'pending' AND t.to_agent = ? AND p.status = 'active'`
	args := []interface{}{now, now, agentRole}
	if namespace != "" {
		query += ` AND t.namespace = ?`
		args = append(args, namespace)
	}
	query += `
		ORDER BY t.priority ASC, t.created_at ASC, t.id ASC
		LIMIT 1
	) AND status = 'pending'
	RETURNING ` + taskColumns

	t, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return t, nil
}

// GetTask retrieves a task by ID. Returns ErrNotFound when absent.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %q: %w", id, oerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// CompleteTask transitions in_progress → completed, recording the result.
// Any other starting state is ErrInvalidStateTransition, which defends
// against double completion and against completing cancelled work.
func (s *Store) CompleteTask(ctx context.Context, id, resultJSON string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
	UPDATE tasks SET status = 'completed', result = ?, completed_at = ?, updated_at = ?
	WHERE id = ? AND status = 'in_progress'`,
		resultJSON, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return s.checkTransition(ctx, res, id, "complete")
}

// FailTask transitions in_progress → failed with an error message.
func (s *Store) FailTask(ctx context.Context, id, errMsg string) error {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
	UPDATE tasks SET status = 'failed', error = ?, completed_at = ?, updated_at = ?
	WHERE id = ? AND status = 'in_progress'`,
		errMsg, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail task: %w", err)
	}
	return s.checkTransition(ctx, res, id, "fail")
}

func (s *Store) checkTransition(ctx context.Context, res sql.Result, id, op string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		t, getErr := s.GetTask(ctx, id)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("cannot %s task %q in status %q: %w", op, id, t.Status, oerrors.ErrInvalidStateTransition)
	}
	return nil
}

// ListTasks retrieves tasks matching the filter, newest first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}

	if f.Namespace != "" {
		query += ` AND namespace = ?`
		args = append(args, f.Namespace)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ToAgent != "" {
		query += ` AND to_agent = ?`
		args = append(args, f.ToAgent)
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// StaleTasks returns in_progress tasks whose claim is older than cutoff.
func (s *Store) StaleTasks(ctx context.Context, cutoff int64) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+taskColumns+` FROM tasks
	WHERE status = 'in_progress' AND started_at < ?
	ORDER BY started_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasksByStatus returns per-status task counts for a namespace.
func (s *Store) CountTasksByStatus(ctx context.Context, namespace string) (map[TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE namespace = ? GROUP BY status`, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// EventProcessed reports whether a completion event ID has already been
// recorded.
func (s *Store) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return n > 0, nil
}

// MarkEventProcessed records a completion event ID, returning true if this
// is the first time the event has been seen. The completion listener uses
// this for at-least-once dedupe.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO processed_events (event_id, task_id, processed_at)
	VALUES (?, ?, ?)`,
		eventID, taskID, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var status string
	var result, errMsg sql.NullString
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Namespace, &t.FromAgent, &t.ToAgent, &t.TaskType, &t.Payload,
		&status, &t.Priority, &t.Attempt, &result, &errMsg,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = TaskStatus(status)
	if result.Valid {
		t.Result = result.String
	}
	if errMsg.Valid {
		t.Error = errMsg.String
	}
	if startedAt.Valid {
		t.StartedAt = startedAt.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Int64
	}
	return t, nil
}
