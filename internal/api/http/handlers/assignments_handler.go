package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/boosty-org/assignment-engine/internal/api/dto"
	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/domain"
	"github.com/boosty-org/assignment-engine/internal/engine"
	"github.com/boosty-org/assignment-engine/internal/repository"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// AssignmentsHandler drives the engine from the HTTP boundary. Outcomes
// map to transport responses through the error middleware.
type AssignmentsHandler struct {
	engine *engine.Engine
	clk    clock.Clock
}

// NewAssignmentsHandler constructs the handler.
func NewAssignmentsHandler(eng *engine.Engine, clk clock.Clock) *AssignmentsHandler {
	return &AssignmentsHandler{engine: eng, clk: clk}
}

// Create POST /assignments.
func (h *AssignmentsHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	a, err := h.engine.Create(c.UserContext(), engine.CreateInput{
		AgentID:        req.AgentID,
		EntityType:     domain.EntityType(req.EntityType),
		EntityID:       req.EntityID,
		Priority:       domain.Priority(req.Priority),
		AssignmentType: domain.AssignmentType(req.AssignmentType),
		Reason:         req.Reason,
		ActorID:        req.ActorID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": h.response(a)})
}

// Get GET /assignments/:id.
func (h *AssignmentsHandler) Get(c *fiber.Ctx) error {
	a, err := h.engine.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(a)})
}

// List GET /assignments.
func (h *AssignmentsHandler) List(c *fiber.Ctx) error {
	filter := repository.AssignmentFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if agentID := c.Query("agent_id"); agentID != "" {
		filter.AgentID = &agentID
	}
	if entityType := c.Query("entity_type"); entityType != "" {
		et := domain.EntityType(entityType)
		filter.EntityType = &et
	}
	if entityID := c.Query("entity_id"); entityID != "" {
		filter.EntityID = &entityID
	}
	if phase := c.Query("phase"); phase != "" {
		filter.Phases = []domain.AssignmentPhase{domain.AssignmentPhase(phase)}
	}

	assignments, err := h.engine.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.AssignmentResponse, 0, len(assignments))
	for i := range assignments {
		items = append(items, h.response(&assignments[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Transfer POST /assignments/:id/transfer.
func (h *AssignmentsHandler) Transfer(c *fiber.Ctx) error {
	var req dto.TransferAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	a, err := h.engine.Transfer(c.UserContext(), c.Params("id"), req.ToAgentID, req.Reason, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(a)})
}

// Escalate POST /assignments/:id/escalate.
func (h *AssignmentsHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	a, err := h.engine.Escalate(c.UserContext(), c.Params("id"), engine.EscalateInput{
		ToAgentID: req.ToAgentID,
		Level:     req.Level,
		Reason:    req.Reason,
		ActorID:   req.ActorID,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(a)})
}

// Complete POST /assignments/:id/complete.
func (h *AssignmentsHandler) Complete(c *fiber.Ctx) error {
	var req dto.CompleteAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	a, err := h.engine.Complete(c.UserContext(), c.Params("id"), req.CompletionReason, req.SatisfactionScore, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(a)})
}

// Cancel POST /assignments/:id/cancel.
func (h *AssignmentsHandler) Cancel(c *fiber.Ctx) error {
	var req dto.CancelAssignmentRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	a, err := h.engine.Cancel(c.UserContext(), c.Params("id"), req.Reason, req.ActorID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.response(a)})
}

// History GET /assignments/:id/history.
func (h *AssignmentsHandler) History(c *fiber.Ctx) error {
	entries, err := h.engine.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		items = append(items, dto.FromHistory(&entries[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Overdue GET /assignments/overdue.
func (h *AssignmentsHandler) Overdue(c *fiber.Ctx) error {
	assignments, err := h.engine.Overdue(c.UserContext())
	if err != nil {
		return err
	}
	items := make([]dto.AssignmentResponse, 0, len(assignments))
	for i := range assignments {
		items = append(items, h.response(&assignments[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func (h *AssignmentsHandler) response(a *domain.Assignment) dto.AssignmentResponse {
	classification := h.engine.SLAClock().Classify(a, h.clk.Now())
	return dto.FromAssignment(a, string(classification.Overall))
}
