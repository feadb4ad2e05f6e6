package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/boosty-org/assignment-engine/internal/api/dto"
	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/engine"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// ThreadsHandler receives thread lifecycle webhooks from the thread
// service and feeds them to the coordinator.
type ThreadsHandler struct {
	coordinator *engine.ThreadCoordinator
	eng         *engine.Engine
	clk         clock.Clock
}

// NewThreadsHandler constructs the handler.
func NewThreadsHandler(coordinator *engine.ThreadCoordinator, eng *engine.Engine, clk clock.Clock) *ThreadsHandler {
	return &ThreadsHandler{coordinator: coordinator, eng: eng, clk: clk}
}

// Opened POST /threads/:id/opened.
func (h *ThreadsHandler) Opened(c *fiber.Ctx) error {
	var req dto.ThreadOpenedRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	a, err := h.coordinator.HandleThreadCreated(c.UserContext(), c.Params("id"), req.AssignedAgent, req.Candidates)
	if err != nil {
		return err
	}
	classification := h.eng.SLAClock().Classify(a, h.clk.Now())
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.FromAssignment(a, string(classification.Overall))})
}

// Closed POST /threads/:id/closed.
func (h *ThreadsHandler) Closed(c *fiber.Ctx) error {
	if err := h.coordinator.HandleThreadClosed(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Reply POST /threads/:id/replies.
func (h *ThreadsHandler) Reply(c *fiber.Ctx) error {
	var req dto.ThreadReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CustomerMessageAt.IsZero() || req.RepliedAt.IsZero() {
		return apperrors.NewRequiredFieldsMissing("customer_message_at", "replied_at")
	}

	if err := h.coordinator.HandleAgentReply(c.UserContext(), c.Params("id"), req.CustomerMessageAt, req.RepliedAt); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
