// Package executor defines the boundary between the orchestration engine
// and whatever actually performs the work. The engine never fabricates an
// execution result: real executors run out of process, and the test
// double marks everything it returns as mocked.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/assembler"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/retry"
)

// ResultKind says how far execution got inside the Execute call.
type ResultKind string

const (
	// ResultAcknowledged means the executor accepted the task and will
	// finish asynchronously; completion arrives later via a sentinel file
	// or the completion listener.
	ResultAcknowledged ResultKind = "acknowledged"
	// ResultCompleted means the work finished within the call and the
	// result carries its artifacts.
	ResultCompleted ResultKind = "completed"
)

// ArtifactOutput is one artifact produced by an execution.
type ArtifactOutput struct {
	FilePath    string `json:"file_path"`
	MemoryType  string `json:"memory_type"`
	Description string `json:"description,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Request is everything an executor needs to act on a claimed task.
type Request struct {
	TaskID    string                    `json:"task_id"`
	Namespace string                    `json:"namespace"`
	AgentRole string                    `json:"agent_role"`
	TaskType  string                    `json:"task_type"`
	Payload   json.RawMessage           `json:"payload"`
	Context   *assembler.ContextPayload `json:"context"`
}

// Result is an executor's answer. Mocked is true only for the scripted
// test double; real executors leave it false.
type Result struct {
	Kind      ResultKind       `json:"kind"`
	Artifacts []ArtifactOutput `json:"artifacts,omitempty"`
	Output    json.RawMessage  `json:"output,omitempty"`
	Mocked    bool             `json:"mocked,omitempty"`
}

// Executor performs one task. Implementations must respect ctx
// cancellation; the proxy enforces the execution timeout.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Proxy wraps an Executor with the configured timeout and error
// classification. Timeouts surface as ErrExecutionTimeout and other
// failures as ErrExecutorFailure, both retryable. Transient failures get
// one bounded in-process retry before the durable retry path (a new task
// row with an incremented attempt) takes over.
type Proxy struct {
	exec    Executor
	timeout time.Duration
	retry   retry.Config
	logger  zerolog.Logger
}

// NewProxy creates a Proxy.
func NewProxy(exec Executor, timeout time.Duration, logger zerolog.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Proxy{
		exec:    exec,
		timeout: timeout,
		retry: retry.Config{
			MaxAttempts: 2,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    time.Second,
			Jitter:      true,
		},
		logger: logger.With().Str("component", "executor_proxy").Logger(),
	}
}

// Dispatch runs the executor under the timeout, retrying retryable
// dispatch errors in process.
func (p *Proxy) Dispatch(ctx context.Context, req Request) (Result, error) {
	var res Result
	err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		r, err := p.dispatchOnce(ctx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (p *Proxy) dispatchOnce(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	res, err := p.exec.Execute(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return Result{}, fmt.Errorf("task %s after %s: %w", req.TaskID, p.timeout, oerrors.ErrExecutionTimeout)
		}
		return Result{}, fmt.Errorf("task %s: %w: %v", req.TaskID, oerrors.ErrExecutorFailure, err)
	}

	if res.Kind != ResultAcknowledged && res.Kind != ResultCompleted {
		return Result{}, fmt.Errorf("task %s: %w: unknown result kind %q", req.TaskID, oerrors.ErrExecutorFailure, res.Kind)
	}

	p.logger.Debug().
		Str("task_id", req.TaskID).
		Str("kind", string(res.Kind)).
		Bool("mocked", res.Mocked).
		Dur("took", time.Since(start)).
		Msg("dispatched")
	return res, nil
}
