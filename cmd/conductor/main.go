// Package main implements the conductor CLI: workflow initialization,
// the orchestration engine itself, and operator commands against the
// local database.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/conductor/internal/config"
	"github.com/p-blackswan/conductor/internal/store"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "conductor",
	Short:   "Multi-phase workflow orchestration engine",
	Long:    `conductor drives software-generation workflows through a fixed phase chain, delegating work to agent roles via a durable task queue.`,
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(forcePhaseCmd)
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}

// setup loads config, builds the logger, and opens the structured store.
// Shared by every command; the store is required, so a missing database
// path fails here, before any command logic runs.
func setup() (*config.Config, zerolog.Logger, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := newLogger(cfg)

	s, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	return cfg, logger, s, nil
}
