// Package worker runs the claim-execute-report loop for each agent role
// and the background sweeper that recovers stale claims.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/assembler"
	"github.com/p-blackswan/conductor/internal/executor"
	"github.com/p-blackswan/conductor/internal/listener"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/retry"
	"github.com/p-blackswan/conductor/internal/store"
)

// Worker polls the queue for one agent role. An empty poll backs off
// exponentially up to the max interval; a successful claim resets the
// backoff.
type Worker struct {
	role      string
	queue     *queue.Queue
	assembler *assembler.Assembler
	proxy     *executor.Proxy
	listener  *listener.Listener
	poll      time.Duration
	maxPoll   time.Duration
	logger    zerolog.Logger
}

// NewWorker creates a Worker for an agent role.
func NewWorker(role string, q *queue.Queue, a *assembler.Assembler, p *executor.Proxy, l *listener.Listener, poll, maxPoll time.Duration, logger zerolog.Logger) *Worker {
	if poll <= 0 {
		poll = time.Second
	}
	if maxPoll < poll {
		maxPoll = poll
	}
	return &Worker{
		role:      role,
		queue:     q,
		assembler: a,
		proxy:     p,
		listener:  l,
		poll:      poll,
		maxPoll:   maxPoll,
		logger:    logger.With().Str("component", "worker").Str("role", role).Logger(),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	backoff := &retry.Backoff{Base: w.poll, Max: w.maxPoll}
	w.logger.Info().Msg("worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info().Msg("worker stopped")
			return
		}

		task, err := w.queue.Claim(ctx, w.role, "")
		if err != nil {
			w.logger.Error().Err(err).Msg("claim failed")
			if !sleep(ctx, backoff.Next()) {
				return
			}
			continue
		}
		if task == nil {
			if !sleep(ctx, backoff.Next()) {
				return
			}
			continue
		}

		backoff.Reset()
		w.process(ctx, task)
	}
}

// process runs one claimed task through assembly, dispatch, and reporting.
func (w *Worker) process(ctx context.Context, task *store.Task) {
	payload, err := w.assembler.Assemble(ctx, task)
	if err != nil {
		w.report(ctx, task, err)
		return
	}

	req := executor.Request{
		TaskID:    task.ID,
		Namespace: task.Namespace,
		AgentRole: w.role,
		TaskType:  task.TaskType,
		Payload:   json.RawMessage(task.Payload),
		Context:   payload,
	}

	res, err := w.proxy.Dispatch(ctx, req)
	if err != nil {
		w.report(ctx, task, err)
		return
	}

	switch res.Kind {
	case executor.ResultCompleted:
		if err := w.listener.OnTaskCompleted(ctx, task, res); err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("completion handling failed")
		}
	case executor.ResultAcknowledged:
		// Work continues out of process; the sentinel watcher or the
		// sweeper decides the task's fate from here.
		w.logger.Info().Str("task_id", task.ID).Msg("task acknowledged, awaiting async completion")
	}
}

func (w *Worker) report(ctx context.Context, task *store.Task, execErr error) {
	if err := w.listener.OnTaskFailed(ctx, task, execErr.Error(), oerrors.IsRetryable(execErr)); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("failure handling failed")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
