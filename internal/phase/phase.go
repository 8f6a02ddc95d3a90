// Package phase holds the workflow phase chain, per-phase artifact
// requirements, the phase state machine, and the prerequisite validator.
package phase

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Phase is a named stage in the fixed workflow sequence.
type Phase string

const (
	GoalClarification        Phase = "goal_clarification"
	Specification            Phase = "specification"
	Architecture             Phase = "architecture"
	Pseudocode               Phase = "pseudocode"
	Implementation           Phase = "implementation"
	RefinementTesting        Phase = "refinement_testing"
	RefinementImplementation Phase = "refinement_implementation"
	Completion               Phase = "completion"
	Documentation            Phase = "documentation"
)

// Chain is the fixed, linear phase order. No branching.
var Chain = []Phase{
	GoalClarification,
	Specification,
	Architecture,
	Pseudocode,
	Implementation,
	RefinementTesting,
	RefinementImplementation,
	Completion,
	Documentation,
}

var chainIndex = func() map[Phase]int {
	m := make(map[Phase]int, len(Chain))
	for i, p := range Chain {
		m[p] = i
	}
	return m
}()

// Known reports whether p is a phase in the chain.
func Known(p Phase) bool {
	_, ok := chainIndex[p]
	return ok
}

// Index returns the position of p in the chain, or -1 if unknown.
func Index(p Phase) int {
	i, ok := chainIndex[p]
	if !ok {
		return -1
	}
	return i
}

// Next returns the phase after p. ok is false at the end of the chain.
func Next(p Phase) (Phase, bool) {
	i, found := chainIndex[p]
	if !found || i+1 >= len(Chain) {
		return "", false
	}
	return Chain[i+1], true
}

// First returns the first phase of the chain.
func First() Phase {
	return Chain[0]
}

// IsFinal reports whether p is the last phase of the chain.
func IsFinal(p Phase) bool {
	return p == Chain[len(Chain)-1]
}

// Definition describes one phase's static configuration: the artifact
// types required to enter it, the types required to consider it complete,
// and the agent role that kicks it off.
type Definition struct {
	Entry        []string `yaml:"entry"`
	Exit         []string `yaml:"exit"`
	Orchestrator string   `yaml:"orchestrator"`
	KickoffType  string   `yaml:"kickoff_type"`
}

// Definitions maps each phase to its definition.
type Definitions map[Phase]Definition

// exit requirements per phase; entry requirements of a phase are the exit
// requirements of its predecessor.
var defaultExit = map[Phase][]string{
	GoalClarification:        {"mutual_understanding_document", "constraints_document"},
	Specification:            {"functional_requirements", "non_functional_requirements"},
	Architecture:             {"system_architecture_document"},
	Pseudocode:               {"pseudocode_document"},
	Implementation:           {"implementation_summary"},
	RefinementTesting:        {"test_report"},
	RefinementImplementation: {"refinement_summary"},
	Completion:               {"completion_report"},
	Documentation:            {"documentation_package"},
}

// Defaults returns the built-in phase definitions.
func Defaults() Definitions {
	defs := make(Definitions, len(Chain))
	for i, p := range Chain {
		var entry []string
		if i > 0 {
			entry = append(entry, defaultExit[Chain[i-1]]...)
		}
		defs[p] = Definition{
			Entry:        entry,
			Exit:         append([]string(nil), defaultExit[p]...),
			Orchestrator: string(p) + "_orchestrator",
			KickoffType:  "phase_kickoff",
		}
	}
	return defs
}

// LoadDefinitions overlays a YAML file onto the defaults. The file may
// redefine a subset of phases; unknown phase names are rejected.
func LoadDefinitions(path string) (Definitions, error) {
	defs := Defaults()
	if path == "" {
		return defs, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading phase definitions: %w", err)
	}

	var overlay map[string]Definition
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parsing phase definitions: %w", err)
	}

	for name, def := range overlay {
		p := Phase(name)
		if !Known(p) {
			return nil, fmt.Errorf("phase definitions: unknown phase %q", name)
		}
		base := defs[p]
		if def.Orchestrator == "" {
			def.Orchestrator = base.Orchestrator
		}
		if def.KickoffType == "" {
			def.KickoffType = base.KickoffType
		}
		if def.Entry == nil {
			def.Entry = base.Entry
		}
		if def.Exit == nil {
			def.Exit = base.Exit
		}
		defs[p] = def
	}
	return defs, nil
}
