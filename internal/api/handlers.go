package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/oerrors"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store     *store.Store
	machine   *phase.Machine
	queue     *queue.Queue
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a Handlers instance.
func NewHandlers(s *store.Store, machine *phase.Machine, q *queue.Queue, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:     s,
		machine:   machine,
		queue:     q,
		checker:   checker,
		logger:    logger.With().Str("component", "api_handlers").Logger(),
		startTime: time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Readiness handles GET /readyz: runs the dependency checks. Only a down
// dependency fails readiness; a degraded one (missing vector store) is
// reported but passes.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if h.checker == nil {
		return c.JSON(fiber.Map{"ready": true})
	}

	results := h.checker.RunAll(c.Context())
	ready := true
	for _, s := range results {
		if s == health.StatusDown {
			ready = false
			break
		}
	}

	status := fiber.StatusOK
	if !ready {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(fiber.Map{"ready": ready, "checks": results})
}

// ListNamespaces handles GET /api/v1/namespaces.
func (h *Handlers) ListNamespaces(c *fiber.Ctx) error {
	projects, err := h.store.ListProjects(c.Context())
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	out := make([]fiber.Map, 0, len(projects))
	for _, p := range projects {
		out = append(out, fiber.Map{
			"namespace": p.Namespace,
			"name":      p.Name,
			"goal":      p.Goal,
			"phase":     p.Phase,
			"status":    string(p.Status),
		})
	}
	return c.JSON(fiber.Map{"namespaces": out})
}

// NamespaceStatus handles GET /api/v1/namespaces/:ns/status. The state
// field distinguishes a healthy in-flight workflow from one blocked on
// missing prerequisites and from one blocked on a failed task.
func (h *Handlers) NamespaceStatus(c *fiber.Ctx) error {
	ns := c.Params("ns")

	project, err := h.store.GetProject(c.Context(), ns)
	if err != nil {
		if errors.Is(err, oerrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"namespace_not_found", "Not Found", "Unknown namespace: "+ns)
		}
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	current := phase.Phase(project.Phase)
	_, missing, err := h.machine.Validator().CanComplete(c.Context(), ns, current)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	counts, err := h.store.CountTasksByStatus(c.Context(), ns)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	escalations, err := h.store.OpenEscalations(c.Context(), ns)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	return c.JSON(fiber.Map{
		"namespace":        ns,
		"name":             project.Name,
		"goal":             project.Goal,
		"phase":            project.Phase,
		"phase_index":      phase.Index(current),
		"phase_count":      len(phase.Chain),
		"status":           string(project.Status),
		"state":            deriveState(project, missing, counts, len(escalations)),
		"missing":          missing,
		"tasks":            counts,
		"open_escalations": len(escalations),
		"progress":         project.Progress,
	})
}

// deriveState classifies the namespace for operators. Precedence: terminal
// project status first, then failures needing attention, then prerequisite
// gaps, then plain in-flight work.
func deriveState(p *store.Project, missing []string, counts map[store.TaskStatus]int, openEscalations int) string {
	switch p.Status {
	case store.ProjectCancelled:
		return "cancelled"
	case store.ProjectClosed:
		return "complete"
	}
	if openEscalations > 0 {
		return "blocked_on_failed_task"
	}
	if counts[store.TaskPending] > 0 || counts[store.TaskInProgress] > 0 {
		return "in_progress"
	}
	if len(missing) > 0 {
		return "blocked_on_prerequisites"
	}
	return "idle"
}

// ListTasks handles GET /api/v1/namespaces/:ns/tasks.
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	ns := c.Params("ns")
	filter := store.TaskFilter{
		Namespace: ns,
		Status:    store.TaskStatus(c.Query("status")),
		ToAgent:   c.Query("agent"),
		Limit:     c.QueryInt("limit", 50),
	}

	tasks, err := h.store.ListTasks(c.Context(), filter)
	if err != nil {
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	out := make([]fiber.Map, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, fiber.Map{
			"id":         t.ID,
			"to_agent":   t.ToAgent,
			"task_type":  t.TaskType,
			"status":     string(t.Status),
			"priority":   t.Priority,
			"attempt":    t.Attempt,
			"error":      t.Error,
			"created_at": t.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"namespace": ns, "tasks": out})
}

// Cancel handles POST /api/v1/namespaces/:ns/cancel.
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	ns := c.Params("ns")

	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}
	if req.Actor == "" || req.Reason == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request", "actor and reason are required")
	}

	cancelled, err := h.queue.Cancel(c.Context(), ns, req.Actor, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, oerrors.ErrNotFound):
			return problemResponse(c, fiber.StatusNotFound,
				"namespace_not_found", "Not Found", "Unknown namespace: "+ns)
		case errors.Is(err, oerrors.ErrNamespaceCancelled):
			return problemResponse(c, fiber.StatusConflict,
				"not_active", "Conflict", "Namespace is not active: "+ns)
		default:
			return problemResponse(c, fiber.StatusInternalServerError,
				"store_error", "Internal Server Error", err.Error())
		}
	}

	return c.JSON(fiber.Map{"namespace": ns, "tasks_cancelled": cancelled})
}

// Advance handles POST /api/v1/namespaces/:ns/advance: an explicit phase
// re-evaluation. A blocked advance returns 200 with the missing list.
func (h *Handlers) Advance(c *fiber.Ctx) error {
	ns := c.Params("ns")

	outcome, err := h.machine.Advance(c.Context(), ns)
	if err != nil {
		switch {
		case errors.Is(err, oerrors.ErrNotFound):
			return problemResponse(c, fiber.StatusNotFound,
				"namespace_not_found", "Not Found", "Unknown namespace: "+ns)
		case errors.Is(err, oerrors.ErrNamespaceCancelled):
			return problemResponse(c, fiber.StatusConflict,
				"cancelled", "Conflict", "Namespace is cancelled: "+ns)
		default:
			return problemResponse(c, fiber.StatusInternalServerError,
				"store_error", "Internal Server Error", err.Error())
		}
	}

	return c.JSON(fiber.Map{
		"namespace": ns,
		"advanced":  outcome.Advanced,
		"from":      string(outcome.From),
		"to":        string(outcome.To),
		"missing":   outcome.Missing,
		"at_final":  outcome.AtFinal,
	})
}

// ForcePhase handles POST /api/v1/namespaces/:ns/force-phase.
func (h *Handlers) ForcePhase(c *fiber.Ctx) error {
	ns := c.Params("ns")

	var req struct {
		Phase  string `json:"phase"`
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request", "Invalid request body: "+err.Error())
	}
	if req.Phase == "" || req.Actor == "" || req.Reason == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request", "phase, actor and reason are required")
	}
	if !phase.Known(phase.Phase(req.Phase)) {
		return problemResponse(c, fiber.StatusBadRequest,
			"unknown_phase", "Bad Request", "Unknown phase: "+req.Phase)
	}

	err := h.machine.ForceTransition(c.Context(), ns, phase.Phase(req.Phase), req.Actor, req.Reason)
	if err != nil {
		if errors.Is(err, oerrors.ErrNotFound) {
			return problemResponse(c, fiber.StatusNotFound,
				"namespace_not_found", "Not Found", "Unknown namespace: "+ns)
		}
		return problemResponse(c, fiber.StatusInternalServerError,
			"store_error", "Internal Server Error", err.Error())
	}

	return c.JSON(fiber.Map{"namespace": ns, "phase": req.Phase, "forced": true})
}
