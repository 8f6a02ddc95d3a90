// Package retry provides exponential backoff for polling loops and
// external dispatch.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/p-blackswan/conductor/internal/oerrors"
)

// Config holds backoff configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// Delay returns the backoff delay for the given zero-based attempt.
func (c Config) Delay(attempt int) time.Duration {
	delay := time.Duration(float64(c.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// Do executes fn with exponential backoff. Only retries if the error is retryable.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !oerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}
	return lastErr
}

// Backoff tracks the polling interval for a claim loop: each empty poll
// doubles the wait up to max, and a hit resets it to base.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	current time.Duration
}

// Next returns the current delay and advances the backoff.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	}
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset restores the backoff to its base interval.
func (b *Backoff) Reset() {
	b.current = 0
}
