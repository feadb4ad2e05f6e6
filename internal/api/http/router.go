package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/boosty-org/assignment-engine/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health      *handlers.HealthHandler
	Assignments *handlers.AssignmentsHandler
	Agents      *handlers.AgentsHandler
	Threads     *handlers.ThreadsHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	assignments := app.Group("/assignments")
	assignments.Post("", cfg.Assignments.Create)
	assignments.Get("", cfg.Assignments.List)
	assignments.Get("/overdue", cfg.Assignments.Overdue)
	assignments.Get("/:id", cfg.Assignments.Get)
	assignments.Post("/:id/transfer", cfg.Assignments.Transfer)
	assignments.Post("/:id/escalate", cfg.Assignments.Escalate)
	assignments.Post("/:id/complete", cfg.Assignments.Complete)
	assignments.Post("/:id/cancel", cfg.Assignments.Cancel)
	assignments.Get("/:id/history", cfg.Assignments.History)

	threads := app.Group("/threads")
	threads.Post("/:id/opened", cfg.Threads.Opened)
	threads.Post("/:id/closed", cfg.Threads.Closed)
	threads.Post("/:id/replies", cfg.Threads.Reply)

	app.Get("/agents/:id/workload", cfg.Agents.Workload)
}
