package phase

import (
	"context"
	"fmt"

	"github.com/p-blackswan/conductor/internal/store"
)

// Validator checks that the structured store contains the artifacts a
// phase requires. Read-only and deterministic; requirements are checked
// with one batched query per call, never one query per type.
type Validator struct {
	store *store.Store
	defs  Definitions
}

// NewValidator creates a Validator over the given store and definitions.
func NewValidator(s *store.Store, defs Definitions) *Validator {
	return &Validator{store: s, defs: defs}
}

// CanEnter reports whether the namespace holds every artifact type the
// phase requires as input, and the subset that is missing.
func (v *Validator) CanEnter(ctx context.Context, namespace string, p Phase) (bool, []string, error) {
	def, ok := v.defs[p]
	if !ok {
		return false, nil, fmt.Errorf("no definition for phase %q", p)
	}
	return v.check(ctx, namespace, def.Entry)
}

// CanComplete reports whether the phase's completion criteria are met.
func (v *Validator) CanComplete(ctx context.Context, namespace string, p Phase) (bool, []string, error) {
	def, ok := v.defs[p]
	if !ok {
		return false, nil, fmt.Errorf("no definition for phase %q", p)
	}
	return v.check(ctx, namespace, def.Exit)
}

func (v *Validator) check(ctx context.Context, namespace string, required []string) (bool, []string, error) {
	if len(required) == 0 {
		return true, nil, nil
	}

	present, err := v.store.ArtifactTypesPresent(ctx, namespace, required)
	if err != nil {
		return false, nil, err
	}

	var missing []string
	for _, t := range required {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return len(missing) == 0, missing, nil
}
