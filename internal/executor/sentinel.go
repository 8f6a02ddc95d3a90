package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/store"
)

// CompletionSink receives completion events for tasks that finished out
// of band. The completion listener implements it.
type CompletionSink interface {
	OnTaskCompleted(ctx context.Context, task *store.Task, result Result) error
}

// sentinelFile is the on-disk shape an asynchronous executor drops into
// the watch directory: <task_id>.json.
type sentinelFile struct {
	TaskID    string           `json:"task_id"`
	Artifacts []ArtifactOutput `json:"artifacts,omitempty"`
	Output    json.RawMessage  `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// SentinelWatcher polls a directory for completion sentinel files written
// by asynchronous executors. Processed files are renamed with a .done
// suffix so a crash between processing and rename replays the event —
// the listener's dedupe makes the replay harmless.
type SentinelWatcher struct {
	dir      string
	store    *store.Store
	sink     CompletionSink
	failer   FailureSink
	interval time.Duration
	logger   zerolog.Logger
}

// FailureSink receives out-of-band failure reports.
type FailureSink interface {
	OnTaskFailed(ctx context.Context, task *store.Task, errMsg string, retryable bool) error
}

// NewSentinelWatcher creates a watcher over dir.
func NewSentinelWatcher(dir string, s *store.Store, sink CompletionSink, failer FailureSink, interval time.Duration, logger zerolog.Logger) *SentinelWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SentinelWatcher{
		dir:      dir,
		store:    s,
		sink:     sink,
		failer:   failer,
		interval: interval,
		logger:   logger.With().Str("component", "sentinel_watcher").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (w *SentinelWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info().Str("dir", w.dir).Msg("sentinel watcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.Scan(ctx); err != nil {
				w.logger.Error().Err(err).Msg("sentinel scan failed")
			} else if n > 0 {
				w.logger.Info().Int("processed", n).Msg("sentinel files processed")
			}
		}
	}
}

// Scan processes all pending sentinel files once and returns how many it
// handled.
func (w *SentinelWatcher) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("reading sentinel dir: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(w.dir, name)
		if err := w.processFile(ctx, path); err != nil {
			w.logger.Error().Err(err).Str("file", name).Msg("sentinel file failed")
			continue
		}
		processed++
	}
	return processed, nil
}

func (w *SentinelWatcher) processFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var sf sentinelFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		// Unparseable files are quarantined, not retried forever.
		w.logger.Warn().Str("file", path).Msg("malformed sentinel file, quarantining")
		return os.Rename(path, path+".bad")
	}
	if sf.TaskID == "" {
		w.logger.Warn().Str("file", path).Msg("sentinel file missing task_id, quarantining")
		return os.Rename(path, path+".bad")
	}

	task, err := w.store.GetTask(ctx, sf.TaskID)
	if err != nil {
		return fmt.Errorf("loading task %s: %w", sf.TaskID, err)
	}

	if sf.Error != "" {
		if err := w.failer.OnTaskFailed(ctx, task, sf.Error, true); err != nil {
			return fmt.Errorf("reporting failure for %s: %w", sf.TaskID, err)
		}
	} else {
		res := Result{Kind: ResultCompleted, Artifacts: sf.Artifacts, Output: sf.Output}
		if err := w.sink.OnTaskCompleted(ctx, task, res); err != nil {
			return fmt.Errorf("reporting completion for %s: %w", sf.TaskID, err)
		}
	}

	return os.Rename(path, path+".done")
}
