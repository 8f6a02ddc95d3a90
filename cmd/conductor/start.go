package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/conductor/internal/api"
	"github.com/p-blackswan/conductor/internal/assembler"
	"github.com/p-blackswan/conductor/internal/executor"
	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/listener"
	"github.com/p-blackswan/conductor/internal/memory"
	"github.com/p-blackswan/conductor/internal/metrics"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestration engine",
	Long: `Start the workers, the stale-claim sweeper, the sentinel watcher, the
status API, and the metrics endpoint. Runs until interrupted.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, logger, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	m := metrics.New()

	defs, err := phase.LoadDefinitions(cfg.PhaseFile)
	if err != nil {
		return err
	}
	machine := phase.NewMachine(s, defs, m, logger)

	// The vector store is best-effort: failing to open it degrades context
	// assembly, it does not stop the engine.
	var vs *memory.VectorStore
	if cfg.VectorEnabled() && cfg.EmbedEnabled() {
		embed := memory.NewOpenAICompatEmbedding(cfg.EmbedEndpoint, cfg.EmbedAPIKey, cfg.EmbedModel)
		vs, err = memory.NewVectorStore(cfg.VectorDir, embed, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("vector store unavailable, running with structured context only")
			vs = nil
		}
	} else {
		logger.Info().Msg("vector store not configured, running with structured context only")
	}
	adapter := memory.NewAdapter(s, vs, logger)

	q := queue.New(s, m, queue.Options{
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxAttempts:     cfg.MaxAttempts,
		ClaimTimeout:    cfg.ClaimTimeout,
	}, logger)

	asm := assembler.New(adapter, assembler.Options{
		TopK:        cfg.ContextTopK,
		RecentN:     cfg.ContextRecentN,
		BudgetBytes: cfg.ContextBudgetBytes,
	}, m, logger)

	var exec executor.Executor
	if cfg.ExecutorCmd != "" {
		parts := strings.Fields(cfg.ExecutorCmd)
		exec = executor.NewExecExecutor(parts[0], parts[1:], logger)
	} else {
		logger.Warn().Msg("no executor command configured, using scripted stand-in (results will be marked mocked)")
		exec = executor.NewScriptedExecutor()
	}
	proxy := executor.NewProxy(exec, cfg.ExecuteTimeout, logger)

	lst := listener.New(s, adapter, machine, q, logger)

	checker := health.NewChecker(logger)
	checker.Register("structured_store", func(ctx context.Context) health.Status {
		if err := s.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("vector_store", func(ctx context.Context) health.Status {
		if !adapter.VectorAvailable() {
			return health.StatusDegraded
		}
		return health.StatusOK
	})

	pool := worker.NewPool(orchestratorRoles(defs), q, asm, proxy, lst,
		cfg.PollInterval, cfg.MaxPollInterval, cfg.SweepInterval, logger)

	logger.Info().
		Str("db", cfg.DBPath).
		Str("api_addr", cfg.APIListenAddr).
		Str("metrics_addr", cfg.MetricsListenAddr).
		Bool("vector", vs != nil).
		Msg("starting conductor")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.SentinelEnabled() {
		watcher := executor.NewSentinelWatcher(cfg.SentinelDir, s, lst, lst, 2*time.Second, logger)
		go watcher.Run(ctx)
	}

	metricsSrv := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: metricsMux(m),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	apiSrv := api.NewServer(cfg.APIListenAddr, s, machine, q, checker, logger)
	go func() {
		if err := apiSrv.Listen(); err != nil {
			logger.Error().Err(err).Msg("api server failed")
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	<-sigCh
	logger.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown failed")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}
	<-poolDone

	logger.Info().Msg("conductor stopped")
	return nil
}

func metricsMux(m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// orchestratorRoles returns each phase's orchestrator role, deduplicated
// in chain order so worker startup is deterministic.
func orchestratorRoles(defs phase.Definitions) []string {
	seen := make(map[string]bool)
	var roles []string
	for _, p := range phase.Chain {
		role := defs[p].Orchestrator
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}
