// Package queue is the durable, namespaced task delegation queue: status
// lifecycle, priority ordering, atomic claiming, bounded retries, and
// staleness recovery.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/metrics"
	"github.com/p-blackswan/conductor/internal/namespace"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/store"
)

// Options configures queue limits.
type Options struct {
	MaxPayloadBytes int
	MaxAttempts     int
	ClaimTimeout    time.Duration
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxPayloadBytes: 256 * 1024,
		MaxAttempts:     3,
		ClaimTimeout:    10 * time.Minute,
	}
}

// Queue wraps the structured store's task tables with validation, retry
// bookkeeping, and escalation. All mutual exclusion lives in the store's
// conditional updates; the queue holds no locks of its own.
type Queue struct {
	store   *store.Store
	metrics *metrics.Metrics
	opts    Options
	logger  zerolog.Logger
}

// New creates a Queue. metrics may be nil.
func New(s *store.Store, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Queue {
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultOptions().MaxPayloadBytes
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = DefaultOptions().ClaimTimeout
	}
	return &Queue{
		store:   s,
		metrics: m,
		opts:    opts,
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// Enqueue inserts a pending task and returns its ID. Oversized payloads
// fail fast with ErrPayloadTooLarge; they are never truncated.
func (q *Queue) Enqueue(ctx context.Context, t *store.Task) (string, error) {
	if !namespace.Validate(t.Namespace) {
		return "", fmt.Errorf("namespace %q: %w", t.Namespace, oerrors.ErrInvalidNamespace)
	}
	if len(t.Payload) > q.opts.MaxPayloadBytes {
		return "", fmt.Errorf("payload is %d bytes, limit %d: %w",
			len(t.Payload), q.opts.MaxPayloadBytes, oerrors.ErrPayloadTooLarge)
	}
	if t.ToAgent == "" || t.TaskType == "" {
		return "", fmt.Errorf("to_agent and task_type are required")
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	if err := q.store.InsertTask(ctx, t); err != nil {
		return "", err
	}

	if q.metrics != nil {
		q.metrics.TasksEnqueued.WithLabelValues(t.ToAgent, t.TaskType).Inc()
	}
	q.logger.Info().
		Str("task_id", t.ID).
		Str("namespace", t.Namespace).
		Str("to_agent", t.ToAgent).
		Str("task_type", t.TaskType).
		Int("priority", t.Priority).
		Int("attempt", t.Attempt).
		Msg("task enqueued")
	return t.ID, nil
}

// Claim atomically claims the most urgent pending task for agentRole.
// Returns (nil, nil) when nothing is eligible; callers poll with backoff.
func (q *Queue) Claim(ctx context.Context, agentRole, ns string) (*store.Task, error) {
	start := time.Now()
	task, err := q.store.ClaimTask(ctx, agentRole, ns)
	if err != nil {
		return nil, err
	}
	if q.metrics != nil {
		q.metrics.ClaimLatency.Observe(time.Since(start).Seconds())
	}
	if task == nil {
		return nil, nil
	}

	if q.metrics != nil {
		q.metrics.TasksClaimed.WithLabelValues(agentRole).Inc()
	}
	q.logger.Info().
		Str("task_id", task.ID).
		Str("namespace", task.Namespace).
		Str("agent", agentRole).
		Msg("task claimed")
	return task, nil
}

// Complete transitions a claimed task to completed.
func (q *Queue) Complete(ctx context.Context, taskID, resultJSON string) error {
	if err := q.store.CompleteTask(ctx, taskID, resultJSON); err != nil {
		return err
	}
	if q.metrics != nil {
		if t, err := q.store.GetTask(ctx, taskID); err == nil {
			q.metrics.TasksCompleted.WithLabelValues(t.ToAgent).Inc()
		}
	}
	return nil
}

// Fail transitions a claimed task to failed. With retry, a NEW pending
// task is enqueued carrying an incremented attempt counter — the failed
// row stays in place, keeping history append-only and auditable. Once the
// attempt bound is reached the failure is escalated instead.
func (q *Queue) Fail(ctx context.Context, t *store.Task, errMsg string, retry bool) error {
	if err := q.store.FailTask(ctx, t.ID, errMsg); err != nil {
		return err
	}

	retried := retry && t.Attempt < q.opts.MaxAttempts
	if q.metrics != nil {
		q.metrics.TasksFailed.WithLabelValues(t.ToAgent, fmt.Sprintf("%t", retried)).Inc()
	}

	if retried {
		clone := &store.Task{
			Namespace: t.Namespace,
			FromAgent: t.FromAgent,
			ToAgent:   t.ToAgent,
			TaskType:  t.TaskType,
			Payload:   t.Payload,
			Priority:  t.Priority,
			Attempt:   t.Attempt + 1,
		}
		if _, err := q.Enqueue(ctx, clone); err != nil {
			return fmt.Errorf("enqueueing retry for %s: %w", t.ID, err)
		}
		q.logger.Warn().
			Str("task_id", t.ID).
			Str("retry_id", clone.ID).
			Int("attempt", clone.Attempt).
			Msg("task failed, retry enqueued")
		return nil
	}

	if retry {
		// Retries exhausted: escalate rather than drop.
		return q.escalate(ctx, t, "retries_exhausted", errMsg)
	}

	q.logger.Warn().Str("task_id", t.ID).Str("error", errMsg).Msg("task failed, no retry")
	return nil
}

// Sweep recovers stale claims: in_progress tasks older than the claim
// timeout are failed and, within the attempt bound, re-enqueued as fresh
// pending rows. Past the bound they are escalated.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-q.opts.ClaimTimeout).UnixMilli()
	stale, err := q.store.StaleTasks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, t := range stale {
		if err := q.Fail(ctx, t, "claim timed out", true); err != nil {
			q.logger.Error().Err(err).Str("task_id", t.ID).Msg("sweep failed for task")
			continue
		}
		swept++
	}
	if swept > 0 {
		q.logger.Info().Int("swept", swept).Msg("stale claims recovered")
	}
	return swept, nil
}

// Cancel fails all live tasks in a namespace without retries and records
// the operator action in the audit log.
func (q *Queue) Cancel(ctx context.Context, ns, actor, reason string) (int64, error) {
	cancelled, err := q.store.CancelProject(ctx, ns, reason)
	if err != nil {
		return 0, err
	}
	if err := q.store.AppendAudit(ctx, ns, actor, "cancel", reason); err != nil {
		return cancelled, err
	}
	return cancelled, nil
}

// MaxAttempts returns the configured retry bound.
func (q *Queue) MaxAttempts() int {
	return q.opts.MaxAttempts
}

func (q *Queue) escalate(ctx context.Context, t *store.Task, reason, details string) error {
	esc := &store.Escalation{
		ID:        uuid.New().String(),
		Namespace: t.Namespace,
		TaskID:    t.ID,
		Reason:    reason,
		Details:   details,
	}
	if err := q.store.SaveEscalation(ctx, esc); err != nil {
		return err
	}
	if q.metrics != nil {
		q.metrics.Escalations.WithLabelValues(reason).Inc()
	}
	return nil
}
