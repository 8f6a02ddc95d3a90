package executor

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedExecutor answers from a fixed script of task_type → result.
// Every result it returns is stamped Mocked so nothing downstream can
// mistake it for real work. Used in tests and as the stand-in when no
// external executor is configured.
type ScriptedExecutor struct {
	mu       sync.Mutex
	script   map[string]Result
	errs     map[string]error
	fallback Result
	requests []Request
}

// NewScriptedExecutor creates a ScriptedExecutor whose unscripted answer
// is a bare acknowledged result.
func NewScriptedExecutor() *ScriptedExecutor {
	return &ScriptedExecutor{
		script:   make(map[string]Result),
		errs:     make(map[string]error),
		fallback: Result{Kind: ResultAcknowledged},
	}
}

// Respond scripts the result for a task type.
func (s *ScriptedExecutor) Respond(taskType string, res Result) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[taskType] = res
	return s
}

// FailWith scripts an error for a task type.
func (s *ScriptedExecutor) FailWith(taskType string, err error) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[taskType] = err
	return s
}

// Requests returns the requests seen so far, in order.
func (s *ScriptedExecutor) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Execute implements Executor.
func (s *ScriptedExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	if err, ok := s.errs[req.TaskType]; ok {
		return Result{}, fmt.Errorf("scripted failure for %s: %w", req.TaskType, err)
	}

	res, ok := s.script[req.TaskType]
	if !ok {
		res = s.fallback
	}
	res.Mocked = true
	return res, nil
}
