package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func TestProxy_Timeout(t *testing.T) {
	p := NewProxy(blockingExecutor{}, 20*time.Millisecond, zerolog.New(io.Discard))

	_, err := p.Dispatch(context.Background(), Request{TaskID: "t1"})
	require.ErrorIs(t, err, oerrors.ErrExecutionTimeout)
	assert.True(t, oerrors.IsRetryable(err))
}

func TestProxy_ExecutorFailure(t *testing.T) {
	exec := NewScriptedExecutor().FailWith("implement", errors.New("disk full"))
	p := NewProxy(exec, time.Second, zerolog.New(io.Discard))

	_, err := p.Dispatch(context.Background(), Request{TaskID: "t1", TaskType: "implement"})
	require.ErrorIs(t, err, oerrors.ErrExecutorFailure)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, oerrors.IsRetryable(err))
}

type flakyExecutor struct {
	failures int
	calls    int
}

func (f *flakyExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, errors.New("connection reset")
	}
	return Result{Kind: ResultCompleted}, nil
}

func TestProxy_RetriesTransientFailure(t *testing.T) {
	exec := &flakyExecutor{failures: 1}
	p := NewProxy(exec, time.Second, zerolog.New(io.Discard))

	res, err := p.Dispatch(context.Background(), Request{TaskID: "t1"})
	require.NoError(t, err, "one transient failure is absorbed in process")
	assert.Equal(t, ResultCompleted, res.Kind)
	assert.Equal(t, 2, exec.calls)
}

func TestProxy_RejectsUnknownResultKind(t *testing.T) {
	exec := NewScriptedExecutor().Respond("implement", Result{Kind: ResultKind("weird")})
	p := NewProxy(exec, time.Second, zerolog.New(io.Discard))

	_, err := p.Dispatch(context.Background(), Request{TaskID: "t1", TaskType: "implement"})
	require.ErrorIs(t, err, oerrors.ErrExecutorFailure)
}

func TestScriptedExecutor_MarksResultsMocked(t *testing.T) {
	exec := NewScriptedExecutor().Respond("implement", Result{
		Kind: ResultCompleted,
		Artifacts: []ArtifactOutput{
			{FilePath: "main.go", MemoryType: "implementation_summary"},
		},
	})
	p := NewProxy(exec, time.Second, zerolog.New(io.Discard))

	res, err := p.Dispatch(context.Background(), Request{TaskID: "t1", TaskType: "implement"})
	require.NoError(t, err)
	assert.True(t, res.Mocked, "scripted results must be explicitly mocked")
	assert.Equal(t, ResultCompleted, res.Kind)

	// Unscripted task types get a mocked acknowledgement.
	res, err = p.Dispatch(context.Background(), Request{TaskID: "t2", TaskType: "review"})
	require.NoError(t, err)
	assert.True(t, res.Mocked)
	assert.Equal(t, ResultAcknowledged, res.Kind)

	reqs := exec.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "t1", reqs[0].TaskID)
}

func TestResult_RoundTripsThroughJSON(t *testing.T) {
	res := Result{
		Kind:   ResultCompleted,
		Output: json.RawMessage(`{"summary":"done"}`),
		Artifacts: []ArtifactOutput{
			{FilePath: "docs/spec.md", MemoryType: "functional_requirements", Content: "..."},
		},
	}
	raw, err := json.Marshal(res)
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, res.Kind, back.Kind)
	assert.Len(t, back.Artifacts, 1)
	assert.False(t, back.Mocked)
}
