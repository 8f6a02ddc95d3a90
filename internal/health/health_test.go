package health

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestChecker_RunAll(t *testing.T) {
	c := NewChecker(zerolog.New(io.Discard))
	c.Register("up", func(ctx context.Context) Status { return StatusOK })
	c.Register("shaky", func(ctx context.Context) Status { return StatusDegraded })

	results := c.RunAll(context.Background())
	assert.Equal(t, StatusOK, results["up"])
	assert.Equal(t, StatusDegraded, results["shaky"])
}

func TestChecker_IsReady(t *testing.T) {
	c := NewChecker(zerolog.New(io.Discard))
	c.Register("up", func(ctx context.Context) Status { return StatusOK })
	c.Register("shaky", func(ctx context.Context) Status { return StatusDegraded })
	assert.True(t, c.IsReady(context.Background()), "degraded does not block readiness")

	c.Register("dead", func(ctx context.Context) Status { return StatusDown })
	assert.False(t, c.IsReady(context.Background()))
}
