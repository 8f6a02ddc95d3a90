package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/assembler"
	"github.com/p-blackswan/conductor/internal/executor"
	"github.com/p-blackswan/conductor/internal/listener"
	"github.com/p-blackswan/conductor/internal/queue"
)

// Pool runs one Worker per agent role plus the stale-claim sweeper.
type Pool struct {
	workers       []*Worker
	queue         *queue.Queue
	sweepInterval time.Duration
	logger        zerolog.Logger
}

// NewPool creates a Pool with a worker for each role.
func NewPool(roles []string, q *queue.Queue, a *assembler.Assembler, p *executor.Proxy, l *listener.Listener, poll, maxPoll, sweepInterval time.Duration, logger zerolog.Logger) *Pool {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	workers := make([]*Worker, 0, len(roles))
	for _, role := range roles {
		workers = append(workers, NewWorker(role, q, a, p, l, poll, maxPoll, logger))
	}
	return &Pool{
		workers:       workers,
		queue:         q,
		sweepInterval: sweepInterval,
		logger:        logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run starts every worker and the sweeper, and blocks until ctx is
// cancelled and all of them have returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sweepLoop(ctx)
	}()

	p.logger.Info().Int("workers", len(p.workers)).Msg("worker pool started")
	wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

// sweepLoop runs one sweep immediately, covering claims orphaned by a
// previous process, then on the configured interval.
func (p *Pool) sweepLoop(ctx context.Context) {
	if _, err := p.queue.Sweep(ctx); err != nil {
		p.logger.Error().Err(err).Msg("startup sweep failed")
	}

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.queue.Sweep(ctx); err != nil {
				p.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
