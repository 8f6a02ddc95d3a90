// Package oerrors provides structured error types for the orchestration engine.
package oerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidNamespace       = errors.New("invalid namespace")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrNamespaceCancelled     = errors.New("namespace cancelled")
	ErrExecutionTimeout       = errors.New("execution timed out")
	ErrExecutorFailure        = errors.New("executor failure")
)

// StoreError represents an error from one of the backing stores.
type StoreError struct {
	Store string // "structured" or "vector"
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err with the store and operation that produced it.
func NewStoreError(store, op string, err error) *StoreError {
	return &StoreError{Store: store, Op: op, Err: err}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
// Validation failures and state-transition conflicts are never retryable.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrExecutionTimeout),
		errors.Is(err, ErrExecutorFailure),
		errors.Is(err, ErrStorageUnavailable):
		return true
	}
	return false
}
