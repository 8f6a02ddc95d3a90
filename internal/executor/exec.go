package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// ExecExecutor shells out to an external command per task: the request is
// written to stdin as JSON, the result is read from stdout as JSON. The
// command inherits the dispatch context, so the proxy's timeout kills it.
type ExecExecutor struct {
	command string
	args    []string
	logger  zerolog.Logger
}

// NewExecExecutor creates an ExecExecutor for the given command line.
func NewExecExecutor(command string, args []string, logger zerolog.Logger) *ExecExecutor {
	return &ExecExecutor{
		command: command,
		args:    args,
		logger:  logger.With().Str("component", "exec_executor").Logger(),
	}
}

// Execute implements Executor.
func (e *ExecExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("running %s: %w: %s", e.command, err, stderr.String())
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{}, fmt.Errorf("decoding result from %s: %w", e.command, err)
	}
	if res.Kind == "" {
		res.Kind = ResultAcknowledged
	}
	// External commands never produce mocked results.
	res.Mocked = false

	e.logger.Debug().
		Str("task_id", req.TaskID).
		Str("command", e.command).
		Str("kind", string(res.Kind)).
		Msg("external executor returned")
	return res, nil
}
