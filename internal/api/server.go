// Package api exposes the operator-facing HTTP surface: namespace status,
// task listings, cancellation, and forced phase transitions.
package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/phase"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/requestid"
	"github.com/p-blackswan/conductor/internal/store"
)

// Server is the status API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	addr     string
	logger   zerolog.Logger
}

// NewServer creates and configures the status API server. checker may be
// nil, in which case /readyz only reports the process being up.
func NewServer(addr string, s *store.Store, machine *phase.Machine, q *queue.Queue, checker *health.Checker, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	handlers := NewHandlers(s, machine, q, checker, logger)

	srv := &Server{
		app:      app,
		handlers: handlers,
		addr:     addr,
		logger:   logger.With().Str("component", "api_server").Logger(),
	}

	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})
	app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/healthz" || path == "/readyz" {
			return c.Next()
		}
		srv.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Str("request_id", c.Locals("request_id").(string)).
			Msg("api request")
		return c.Next()
	})

	app.Get("/healthz", handlers.Liveness)
	app.Get("/readyz", handlers.Readiness)

	v1 := app.Group("/api/v1")
	v1.Get("/namespaces", handlers.ListNamespaces)
	v1.Get("/namespaces/:ns/status", handlers.NamespaceStatus)
	v1.Get("/namespaces/:ns/tasks", handlers.ListTasks)
	v1.Post("/namespaces/:ns/cancel", handlers.Cancel)
	v1.Post("/namespaces/:ns/advance", handlers.Advance)
	v1.Post("/namespaces/:ns/force-phase", handlers.ForcePhase)

	return srv
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info().Str("addr", s.addr).Msg("status api listening")
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(fiber.Map{
		"type":     errType,
		"title":    title,
		"status":   status,
		"detail":   detail,
		"instance": c.Path(),
	})
}
