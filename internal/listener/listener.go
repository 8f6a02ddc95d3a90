// Package listener reacts to task completions and failures: it persists
// produced artifacts, re-evaluates phase prerequisites, advances the
// workflow, and kicks off the next phase's orchestrator.
package listener

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/executor"
	"github.com/p-blackswan/conductor/internal/memory"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/store"
)

// Listener is the completion listener. Completion handling is idempotent:
// each task's completion event is recorded once, and redelivery is a
// logged no-op.
type Listener struct {
	store   *store.Store
	memory  *memory.Adapter
	machine *phase.Machine
	queue   *queue.Queue
	logger  zerolog.Logger
}

// New creates a Listener.
func New(s *store.Store, mem *memory.Adapter, machine *phase.Machine, q *queue.Queue, logger zerolog.Logger) *Listener {
	return &Listener{
		store:   s,
		memory:  mem,
		machine: machine,
		queue:   q,
		logger:  logger.With().Str("component", "listener").Logger(),
	}
}

// kickoffPriority sits below urgent operator work but above bulk tasks.
const kickoffPriority = 3

// OnTaskCompleted handles one task completion end to end: dedupe, task
// state transition, artifact persistence, progress update, and phase
// re-evaluation. A blocked phase is a normal outcome, not an error.
//
// The event is marked processed only after every effect has been applied.
// Each effect tolerates re-application (the task transition resumes if
// already completed, identical artifacts keep their version), so a
// delivery that fails partway is simply retried in full by the next one
// instead of being swallowed.
func (l *Listener) OnTaskCompleted(ctx context.Context, task *store.Task, result executor.Result) error {
	eventID := "complete:" + task.ID
	processed, err := l.store.EventProcessed(ctx, eventID)
	if err != nil {
		return err
	}
	if processed {
		l.logger.Debug().Str("task_id", task.ID).Msg("duplicate completion event ignored")
		return nil
	}

	// Transition the task row first: completing a cancelled or failed task
	// is rejected here, before any artifact is written.
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result for %s: %w", task.ID, err)
	}
	if err := l.queue.Complete(ctx, task.ID, string(resultJSON)); err != nil {
		cur, getErr := l.store.GetTask(ctx, task.ID)
		if getErr != nil || cur.Status != store.TaskCompleted {
			return fmt.Errorf("completing task %s: %w", task.ID, err)
		}
		// Already completed but the event was never recorded: a prior
		// delivery failed partway through. Resume the remaining effects.
		l.logger.Warn().Str("task_id", task.ID).Msg("resuming partially applied completion")
	}

	for _, out := range result.Artifacts {
		art := &store.Artifact{
			Namespace:   task.Namespace,
			FilePath:    out.FilePath,
			MemoryType:  out.MemoryType,
			Description: out.Description,
			ContentHash: out.ContentHash,
		}
		version, err := l.memory.Store(ctx, art, out.Content)
		if err != nil {
			return fmt.Errorf("storing artifact %s: %w", out.FilePath, err)
		}
		l.logger.Info().
			Str("namespace", task.Namespace).
			Str("file_path", out.FilePath).
			Str("memory_type", out.MemoryType).
			Int("version", version).
			Bool("mocked", result.Mocked).
			Msg("artifact stored")
	}

	if err := l.updateProgress(ctx, task.Namespace); err != nil {
		l.logger.Warn().Err(err).Str("namespace", task.Namespace).Msg("progress update failed")
	}

	if err := l.reevaluate(ctx, task.Namespace); err != nil {
		return err
	}

	if _, err := l.store.MarkEventProcessed(ctx, eventID, task.ID); err != nil {
		return err
	}
	return nil
}

// OnTaskFailed records a failure and lets the queue decide between retry
// and escalation.
func (l *Listener) OnTaskFailed(ctx context.Context, task *store.Task, errMsg string, retryable bool) error {
	l.logger.Warn().
		Str("task_id", task.ID).
		Str("namespace", task.Namespace).
		Str("error", errMsg).
		Bool("retryable", retryable).
		Msg("task failed")
	return l.queue.Fail(ctx, task, errMsg, retryable)
}

// reevaluate advances the phase machine as far as the artifact trail
// allows and enqueues the next orchestrator kickoff on each advance. The
// loop handles the case where one completion satisfies several phases in
// a row (forced transitions can leave the trail ahead of the phase).
func (l *Listener) reevaluate(ctx context.Context, ns string) error {
	for {
		outcome, err := l.machine.Advance(ctx, ns)
		if err != nil {
			return fmt.Errorf("advancing %s: %w", ns, err)
		}

		if outcome.AtFinal {
			if err := l.store.CloseProject(ctx, ns); err != nil {
				return fmt.Errorf("closing %s: %w", ns, err)
			}
			l.logger.Info().Str("namespace", ns).Msg("workflow complete, project closed")
			return nil
		}

		if !outcome.Advanced {
			l.logger.Debug().
				Str("namespace", ns).
				Str("phase", string(outcome.From)).
				Strs("missing", outcome.Missing).
				Msg("phase not yet complete")
			return nil
		}

		if err := l.kickoff(ctx, ns, outcome.To); err != nil {
			return err
		}
	}
}

// kickoff enqueues the phase's kickoff task for its orchestrator role.
func (l *Listener) kickoff(ctx context.Context, ns string, p phase.Phase) error {
	def, ok := l.machine.Definition(p)
	if !ok {
		return fmt.Errorf("no definition for phase %q", p)
	}

	payload, err := json.Marshal(map[string]string{
		"phase":  string(p),
		"intent": "begin " + string(p) + " phase",
	})
	if err != nil {
		return fmt.Errorf("encoding kickoff payload: %w", err)
	}

	id, err := l.queue.Enqueue(ctx, &store.Task{
		Namespace: ns,
		FromAgent: "conductor",
		ToAgent:   def.Orchestrator,
		TaskType:  def.KickoffType,
		Payload:   string(payload),
		Priority:  kickoffPriority,
	})
	if err != nil {
		return fmt.Errorf("enqueueing kickoff for %s/%s: %w", ns, p, err)
	}

	l.logger.Info().
		Str("namespace", ns).
		Str("phase", string(p)).
		Str("task_id", id).
		Str("orchestrator", def.Orchestrator).
		Msg("phase kickoff enqueued")
	return nil
}

func (l *Listener) updateProgress(ctx context.Context, ns string) error {
	project, err := l.store.GetProject(ctx, ns)
	if err != nil {
		return err
	}
	artifacts, err := l.store.CountArtifacts(ctx, ns)
	if err != nil {
		return err
	}

	idx := phase.Index(phase.Phase(project.Phase))
	percent := 0
	if idx >= 0 {
		percent = idx * 100 / len(phase.Chain)
	}

	progress, err := json.Marshal(map[string]interface{}{
		"phase":     project.Phase,
		"percent":   percent,
		"artifacts": artifacts,
	})
	if err != nil {
		return err
	}
	return l.store.UpdateProjectProgress(ctx, ns, string(progress))
}
