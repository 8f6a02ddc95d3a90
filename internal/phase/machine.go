package phase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/metrics"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/store"
)

// Machine holds the current phase for each namespace and enforces the
// legal transition chain. It is the only writer of the project phase
// column; within one namespace, transitions are totally ordered and the
// phase never regresses except through ForceTransition.
type Machine struct {
	store     *store.Store
	defs      Definitions
	validator *Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewMachine creates a phase state machine. metrics may be nil.
func NewMachine(s *store.Store, defs Definitions, m *metrics.Metrics, logger zerolog.Logger) *Machine {
	return &Machine{
		store:     s,
		defs:      defs,
		validator: NewValidator(s, defs),
		metrics:   m,
		logger:    logger.With().Str("component", "phase_machine").Logger(),
	}
}

// Validator returns the machine's prerequisite validator.
func (m *Machine) Validator() *Validator {
	return m.validator
}

// Definition returns the static definition for a phase.
func (m *Machine) Definition(p Phase) (Definition, bool) {
	def, ok := m.defs[p]
	return def, ok
}

// Current reads the namespace's current phase.
func (m *Machine) Current(ctx context.Context, namespace string) (Phase, error) {
	p, err := m.store.GetProject(ctx, namespace)
	if err != nil {
		return "", err
	}
	return Phase(p.Phase), nil
}

// AdvanceOutcome describes the result of an Advance call. A blocked
// advance is a normal negative result, not an error: Missing lists the
// artifact types still required to complete the current phase.
type AdvanceOutcome struct {
	Advanced bool
	From     Phase
	To       Phase
	Missing  []string
	AtFinal  bool // the current phase is the end of the chain
}

// Advance moves the namespace to the next phase if and only if the current
// phase's completion criteria are met. The underlying update is
// conditional on the current phase, so concurrent advances cannot skip a
// phase or apply twice.
func (m *Machine) Advance(ctx context.Context, namespace string) (AdvanceOutcome, error) {
	project, err := m.store.GetProject(ctx, namespace)
	if err != nil {
		return AdvanceOutcome{}, err
	}
	if project.Status == store.ProjectCancelled {
		return AdvanceOutcome{}, fmt.Errorf("namespace %q: %w", namespace, oerrors.ErrNamespaceCancelled)
	}

	current := Phase(project.Phase)
	if !Known(current) {
		return AdvanceOutcome{}, fmt.Errorf("namespace %q has unknown phase %q", namespace, project.Phase)
	}

	ok, missing, err := m.validator.CanComplete(ctx, namespace, current)
	if err != nil {
		return AdvanceOutcome{}, err
	}
	if !ok {
		return AdvanceOutcome{From: current, Missing: missing}, nil
	}

	next, hasNext := Next(current)
	if !hasNext {
		return AdvanceOutcome{From: current, AtFinal: true}, nil
	}

	if err := m.store.AdvanceProjectPhase(ctx, namespace, string(current), string(next)); err != nil {
		return AdvanceOutcome{}, err
	}

	if m.metrics != nil {
		m.metrics.PhaseTransitions.WithLabelValues(string(next), "advance").Inc()
	}
	m.logger.Info().
		Str("namespace", namespace).
		Str("from", string(current)).
		Str("to", string(next)).
		Msg("phase advanced")

	return AdvanceOutcome{Advanced: true, From: current, To: next}, nil
}

// ForceTransition sets the phase without prerequisite validation. This is
// an explicit human escape hatch: it can leave an inconsistent artifact
// trail, so every call is audit-logged with actor and reason.
func (m *Machine) ForceTransition(ctx context.Context, namespace string, target Phase, actor, reason string) error {
	if !Known(target) {
		return fmt.Errorf("unknown phase %q", target)
	}
	if actor == "" || reason == "" {
		return fmt.Errorf("force transition requires an actor and a reason")
	}

	project, err := m.store.GetProject(ctx, namespace)
	if err != nil {
		return err
	}

	if err := m.store.SetProjectPhase(ctx, namespace, string(target)); err != nil {
		return err
	}

	detail := fmt.Sprintf("from %s to %s: %s", project.Phase, target, reason)
	if err := m.store.AppendAudit(ctx, namespace, actor, "force_transition", detail); err != nil {
		return err
	}

	if m.metrics != nil {
		m.metrics.PhaseTransitions.WithLabelValues(string(target), "forced").Inc()
	}
	m.logger.Warn().
		Str("namespace", namespace).
		Str("from", project.Phase).
		Str("to", string(target)).
		Str("actor", actor).
		Str("reason", reason).
		Msg("phase transition forced")

	return nil
}
