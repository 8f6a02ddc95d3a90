package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/conductor/internal/namespace"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/store"
)

var (
	initPath string
	initName string
	opActor  string
	opReason string
)

func init() {
	initCmd.Flags().StringVar(&initPath, "path", ".", "project root path (namespace derivation input)")
	initCmd.Flags().StringVar(&initName, "name", "", "project name (defaults to the root directory name)")

	cancelCmd.Flags().StringVar(&opActor, "actor", "", "who is performing the operation (required)")
	cancelCmd.Flags().StringVar(&opReason, "reason", "", "why (required)")
	_ = cancelCmd.MarkFlagRequired("actor")
	_ = cancelCmd.MarkFlagRequired("reason")

	forcePhaseCmd.Flags().StringVar(&opActor, "actor", "", "who is performing the operation (required)")
	forcePhaseCmd.Flags().StringVar(&opReason, "reason", "", "why (required)")
	_ = forcePhaseCmd.MarkFlagRequired("actor")
	_ = forcePhaseCmd.MarkFlagRequired("reason")
}

var initCmd = &cobra.Command{
	Use:   "init <goal>",
	Short: "Initialize a workflow for a project",
	Long: `Derive the project's namespace from its root path, create the project in
the first phase, and enqueue the first orchestrator kickoff.

Examples:
  conductor init "Build a REST API for inventory tracking" --path ./inventory
  conductor init "Port the billing service to Go" --path ~/src/billing --name billing`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	goal := args[0]

	cfg, logger, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	name := initName
	if name == "" {
		abs, err := os.Getwd()
		if err != nil {
			return err
		}
		if initPath != "." {
			abs = initPath
		}
		parts := strings.Split(strings.TrimRight(abs, "/"), "/")
		name = parts[len(parts)-1]
	}

	ns, err := namespace.Derive(initPath, name)
	if err != nil {
		return err
	}

	project := &store.Project{
		Namespace: ns,
		Name:      name,
		RootPath:  initPath,
		Goal:      goal,
		Phase:     string(phase.First()),
	}
	if err := s.CreateProject(cmd.Context(), project); err != nil {
		return err
	}

	// Kick off the first phase so a running engine picks the project up
	// immediately.
	defs, err := phase.LoadDefinitions(cfg.PhaseFile)
	if err != nil {
		return err
	}
	first := defs[phase.First()]
	payload, err := json.Marshal(map[string]string{
		"phase":  string(phase.First()),
		"intent": goal,
		"goal":   goal,
	})
	if err != nil {
		return err
	}

	q := queue.New(s, nil, queue.DefaultOptions(), logger)
	taskID, err := q.Enqueue(cmd.Context(), &store.Task{
		Namespace: ns,
		FromAgent: "conductor",
		ToAgent:   first.Orchestrator,
		TaskType:  first.KickoffType,
		Payload:   string(payload),
		Priority:  3,
	})
	if err != nil {
		return err
	}

	fmt.Printf("initialized %s\n", ns)
	fmt.Printf("phase:   %s\n", phase.First())
	fmt.Printf("kickoff: %s -> %s\n", taskID, first.Orchestrator)
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status [namespace]",
	Short: "Show workflow status",
	Long:  `Without a namespace, list all projects. With one, show its phase, pending prerequisites, and task counts.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		projects, err := s.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("no projects")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%-50s %-25s %s\n", p.Namespace, p.Phase, p.Status)
		}
		return nil
	}

	ns := args[0]
	project, err := s.GetProject(cmd.Context(), ns)
	if err != nil {
		return err
	}

	defs, err := phase.LoadDefinitions(cfg.PhaseFile)
	if err != nil {
		return err
	}
	validator := phase.NewValidator(s, defs)
	_, missing, err := validator.CanComplete(cmd.Context(), ns, phase.Phase(project.Phase))
	if err != nil {
		return err
	}

	counts, err := s.CountTasksByStatus(cmd.Context(), ns)
	if err != nil {
		return err
	}

	fmt.Printf("namespace: %s\n", project.Namespace)
	fmt.Printf("goal:      %s\n", project.Goal)
	fmt.Printf("phase:     %s (%d/%d)\n", project.Phase,
		phase.Index(phase.Phase(project.Phase))+1, len(phase.Chain))
	fmt.Printf("status:    %s\n", project.Status)
	if len(missing) > 0 {
		fmt.Printf("missing:   %s\n", strings.Join(missing, ", "))
	}
	for status, n := range counts {
		fmt.Printf("tasks:     %s=%d\n", status, n)
	}
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <namespace>",
	Short: "Cancel a workflow",
	Long:  `Mark the namespace cancelled and fail all of its live tasks. Requires --actor and --reason; both are audit-logged.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	_, logger, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	q := queue.New(s, nil, queue.DefaultOptions(), logger)
	cancelled, err := q.Cancel(cmd.Context(), args[0], opActor, opReason)
	if err != nil {
		return err
	}
	fmt.Printf("cancelled %s (%d live tasks failed)\n", args[0], cancelled)
	return nil
}

var forcePhaseCmd = &cobra.Command{
	Use:   "force-phase <namespace> <phase>",
	Short: "Force a phase transition without prerequisite validation",
	Long:  `Human escape hatch: set the phase directly, bypassing artifact checks. Requires --actor and --reason; both are audit-logged.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runForcePhase,
}

func runForcePhase(cmd *cobra.Command, args []string) error {
	cfg, logger, s, err := setup()
	if err != nil {
		return err
	}
	defer s.Close()

	defs, err := phase.LoadDefinitions(cfg.PhaseFile)
	if err != nil {
		return err
	}
	machine := phase.NewMachine(s, defs, nil, logger)
	if err := machine.ForceTransition(cmd.Context(), args[0], phase.Phase(args[1]), opActor, opReason); err != nil {
		return err
	}
	fmt.Printf("forced %s to %s\n", args[0], args[1])
	return nil
}
