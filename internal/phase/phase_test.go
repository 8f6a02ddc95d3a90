package phase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Order(t *testing.T) {
	assert.Equal(t, GoalClarification, First())
	assert.True(t, IsFinal(Documentation))
	assert.False(t, IsFinal(Completion))

	next, ok := Next(GoalClarification)
	require.True(t, ok)
	assert.Equal(t, Specification, next)

	_, ok = Next(Documentation)
	assert.False(t, ok)

	assert.Equal(t, 0, Index(GoalClarification))
	assert.Equal(t, len(Chain)-1, Index(Documentation))
	assert.Equal(t, -1, Index(Phase("nope")))
	assert.False(t, Known(Phase("nope")))
}

func TestDefaults_EntryIsPredecessorExit(t *testing.T) {
	defs := Defaults()

	assert.Empty(t, defs[GoalClarification].Entry)
	assert.Equal(t,
		[]string{"mutual_understanding_document", "constraints_document"},
		defs[Specification].Entry)
	assert.Equal(t,
		[]string{"functional_requirements", "non_functional_requirements"},
		defs[Architecture].Entry)

	for _, p := range Chain {
		def := defs[p]
		assert.NotEmpty(t, def.Exit, "phase %s must have exit requirements", p)
		assert.Equal(t, string(p)+"_orchestrator", def.Orchestrator)
		assert.Equal(t, "phase_kickoff", def.KickoffType)
	}
}

func TestLoadDefinitions_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
specification:
  exit: [functional_requirements]
  orchestrator: spec_writer
`), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)

	spec := defs[Specification]
	assert.Equal(t, []string{"functional_requirements"}, spec.Exit)
	assert.Equal(t, "spec_writer", spec.Orchestrator)
	assert.Equal(t, "phase_kickoff", spec.KickoffType, "unset fields keep defaults")

	// Untouched phases keep their defaults.
	assert.Equal(t, Defaults()[Architecture], defs[Architecture])
}

func TestLoadDefinitions_RejectsUnknownPhase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
deployment:
  exit: [deploy_report]
`), 0o644))

	_, err := LoadDefinitions(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployment")
}

func TestLoadDefinitions_EmptyPathUsesDefaults(t *testing.T) {
	defs, err := LoadDefinitions("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), defs)
}
