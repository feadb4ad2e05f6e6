package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/boosty-org/assignment-engine/internal/workload"
)

// AgentsHandler exposes per-agent workload reporting.
type AgentsHandler struct {
	tracker *workload.Tracker
}

// NewAgentsHandler constructs the handler.
func NewAgentsHandler(tracker *workload.Tracker) *AgentsHandler {
	return &AgentsHandler{tracker: tracker}
}

// Workload GET /agents/:id/workload.
func (h *AgentsHandler) Workload(c *fiber.Ctx) error {
	window := time.Duration(c.QueryInt("window_hours", 24)) * time.Hour
	snap := h.tracker.Snapshot(c.Params("id"), window)
	return c.JSON(fiber.Map{"data": snap})
}
