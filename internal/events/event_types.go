package events

import (
	"time"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAssignmentCreated     EventType = "assignment_created"
	EventAssignmentTransferred EventType = "assignment_transferred"
	EventAssignmentEscalated   EventType = "assignment_escalated"
	EventAssignmentCompleted   EventType = "assignment_completed"
	EventAssignmentCancelled   EventType = "assignment_cancelled"
)

// AllTypes lists every event type, for consumers subscribing to the full
// stream.
func AllTypes() []EventType {
	return []EventType{
		EventAssignmentCreated,
		EventAssignmentTransferred,
		EventAssignmentEscalated,
		EventAssignmentCompleted,
		EventAssignmentCancelled,
	}
}

// Event represents a domain event emitted by the engine.
type Event struct {
	ID           string      `json:"id"`
	Type         EventType   `json:"type"`
	AssignmentID string      `json:"assignment_id"`
	ActorID      *string     `json:"actor_id,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Payload      interface{} `json:"payload"`
}

// AssignmentCreatedPayload payload.
type AssignmentCreatedPayload struct {
	Code               string                `json:"code"`
	AgentID            string                `json:"agent_id"`
	EntityType         domain.EntityType     `json:"entity_type"`
	EntityID           string                `json:"entity_id"`
	AssignmentType     domain.AssignmentType `json:"assignment_type"`
	Priority           domain.Priority       `json:"priority"`
	ResolutionDeadline time.Time             `json:"resolution_deadline"`
}

// AssignmentTransferredPayload payload.
type AssignmentTransferredPayload struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	Reason      string `json:"reason,omitempty"`
}

// AssignmentEscalatedPayload payload.
type AssignmentEscalatedPayload struct {
	OldLevel  int     `json:"old_level"`
	NewLevel  int     `json:"new_level"`
	ToAgentID *string `json:"to_agent_id,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// AssignmentCompletedPayload payload.
type AssignmentCompletedPayload struct {
	AgentID           string `json:"agent_id"`
	CompletionReason  string `json:"completion_reason"`
	SatisfactionScore *int   `json:"satisfaction_score,omitempty"`
}

// AssignmentCancelledPayload payload.
type AssignmentCancelledPayload struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}
