package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

func TestConfig_DelayGrowsAndCaps(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 500*time.Millisecond, cfg.Delay(3), "delay is capped")
	assert.Equal(t, 500*time.Millisecond, cfg.Delay(10))
}

func TestDo_RetriesOnlyRetryableErrors(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return fmt.Errorf("dispatch: %w", oerrors.ErrExecutorFailure)
	})
	require.ErrorIs(t, err, oerrors.ErrExecutorFailure)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("bad input")
	err = Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "non-retryable errors fail immediately")
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("flaky: %w", oerrors.ErrStorageUnavailable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestBackoff_DoublesAndResets(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Max: 400 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next(), "stays at max")

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}
