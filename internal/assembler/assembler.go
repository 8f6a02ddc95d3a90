// Package assembler builds the context payload handed to an agent with a
// claimed task: semantic matches, recent structured records, and stored
// preferences, trimmed to a byte budget.
package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/memory"
	"github.com/p-blackswan/conductor/internal/metrics"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/store"
)

// Options bounds the size and shape of assembled payloads.
type Options struct {
	TopK        int
	RecentN     int
	BudgetBytes int
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{TopK: 5, RecentN: 10, BudgetBytes: 32 * 1024}
}

// SemanticMatch is one vector search hit included in a payload.
type SemanticMatch struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// RecentEntry is one recency-ordered structured record.
type RecentEntry struct {
	ID         string `json:"id"`
	MemoryType string `json:"memory_type"`
	FilePath   string `json:"file_path,omitempty"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
}

// ContextPayload is what an agent receives alongside its task. Degraded
// marks a structured-only payload produced while the vector store was
// unreachable; it is never silently dropped.
type ContextPayload struct {
	Namespace       string            `json:"namespace"`
	TaskID          string            `json:"task_id"`
	TaskType        string            `json:"task_type"`
	Query           string            `json:"query"`
	SemanticMatches []SemanticMatch   `json:"semantic_matches,omitempty"`
	Recent          []RecentEntry     `json:"recent,omitempty"`
	Preferences     map[string]string `json:"preferences,omitempty"`
	Degraded        bool              `json:"degraded"`
	DegradedReason  string            `json:"degraded_reason,omitempty"`
}

// Assembler gathers context from the memory adapter. Deterministic for a
// given store state; all trimming rules are fixed, not heuristic.
type Assembler struct {
	memory  *memory.Adapter
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates an Assembler. metrics may be nil.
func New(m *memory.Adapter, opts Options, mtr *metrics.Metrics, logger zerolog.Logger) *Assembler {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.RecentN <= 0 {
		opts.RecentN = def.RecentN
	}
	if opts.BudgetBytes <= 0 {
		opts.BudgetBytes = def.BudgetBytes
	}
	return &Assembler{
		memory:  m,
		opts:    opts,
		metrics: mtr,
		logger:  logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble builds the context payload for a claimed task. A vector store
// outage degrades to structured-only context and says so; a structured
// store failure is fatal, because without it nothing trustworthy remains.
func (a *Assembler) Assemble(ctx context.Context, task *store.Task) (*ContextPayload, error) {
	payload := &ContextPayload{
		Namespace: task.Namespace,
		TaskID:    task.ID,
		TaskType:  task.TaskType,
		Query:     queryFor(task),
	}

	hits, err := a.memory.Search(ctx, task.Namespace, payload.Query, a.opts.TopK)
	switch {
	case err == nil:
		for _, h := range hits {
			payload.SemanticMatches = append(payload.SemanticMatches, SemanticMatch{
				ID:      h.ID,
				Content: h.Content,
				Score:   h.Score,
			})
		}
	case errors.Is(err, oerrors.ErrStorageUnavailable):
		payload.Degraded = true
		payload.DegradedReason = "vector store unavailable, structured context only"
		if a.metrics != nil {
			a.metrics.DegradedContexts.Inc()
		}
		a.logger.Warn().
			Str("namespace", task.Namespace).
			Str("task_id", task.ID).
			Msg("assembling degraded context")
	default:
		return nil, fmt.Errorf("assembling context for %s: %w", task.ID, err)
	}

	recent, err := a.memory.Recent(ctx, task.Namespace, a.opts.RecentN)
	if err != nil {
		return nil, fmt.Errorf("assembling context for %s: %w", task.ID, err)
	}
	for _, r := range recent {
		payload.Recent = append(payload.Recent, RecentEntry{
			ID:         r.ID,
			MemoryType: r.MemoryType,
			FilePath:   r.FilePath,
			Content:    r.Content,
			CreatedAt:  r.CreatedAt,
		})
	}

	prefs, err := a.memory.Preferences(ctx, task.Namespace)
	if err != nil {
		return nil, fmt.Errorf("assembling context for %s: %w", task.ID, err)
	}
	if len(prefs) > 0 {
		payload.Preferences = prefs
	}

	if err := a.trim(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// trim enforces the byte budget. Lowest-scored semantic matches go first,
// then the oldest recent entries; preferences are small and always kept.
func (a *Assembler) trim(p *ContextPayload) error {
	for {
		size, err := payloadSize(p)
		if err != nil {
			return err
		}
		if size <= a.opts.BudgetBytes {
			return nil
		}

		switch {
		case len(p.SemanticMatches) > 0:
			// Hits arrive best-first, so the tail is the least similar.
			p.SemanticMatches = p.SemanticMatches[:len(p.SemanticMatches)-1]
		case len(p.Recent) > 0:
			// Recent arrives newest-first, so the tail is the oldest.
			p.Recent = p.Recent[:len(p.Recent)-1]
		default:
			return nil
		}
	}
}

func payloadSize(p *ContextPayload) (int, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("sizing context payload: %w", err)
	}
	return len(raw), nil
}

// queryFor extracts the search query from the task payload, falling back
// to the task type when the payload carries no intent.
func queryFor(t *store.Task) string {
	var body struct {
		Intent string `json:"intent"`
		Goal   string `json:"goal"`
	}
	if err := json.Unmarshal([]byte(t.Payload), &body); err == nil {
		if body.Intent != "" {
			return body.Intent
		}
		if body.Goal != "" {
			return body.Goal
		}
	}
	return t.TaskType
}
