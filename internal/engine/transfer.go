package engine

import (
	"strings"

	"github.com/boosty-org/assignment-engine/internal/domain"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// TransferCoordinator applies ownership moves to an assignment. Deadline
// policy: SLA deadlines are preserved across transfers; the obligation
// belongs to the customer, not the agent, so internal reassignment never
// buys time.
type TransferCoordinator struct{}

// NewTransferCoordinator builds the coordinator.
func NewTransferCoordinator() *TransferCoordinator {
	return &TransferCoordinator{}
}

// Apply validates and performs the ownership change on the aggregate.
// The caller holds the record lock, persists the aggregate, and moves
// workload counters afterwards.
func (t *TransferCoordinator) Apply(a *domain.Assignment, toAgentID string) (fromAgentID string, err error) {
	toAgentID = strings.TrimSpace(toAgentID)
	if toAgentID == "" {
		return "", apperrors.NewToAgentIDRequired()
	}
	if a.IsTerminal() {
		return "", apperrors.NewAssignmentClosed(a.ID)
	}
	if a.AgentID == toAgentID {
		return "", apperrors.NewValidationError("assignment already owned by agent", map[string]any{
			"assignment_id": a.ID,
			"agent_id":      toAgentID,
		})
	}

	fromAgentID = a.AgentID
	a.AgentID = toAgentID
	a.LastEvent = domain.EventTransferred
	return fromAgentID, nil
}
