package dto

import (
	"time"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

// CreateAssignmentRequest describes assignment creation payload.
type CreateAssignmentRequest struct {
	AgentID        string  `json:"agent_id"`
	EntityType     string  `json:"entity_type"`
	EntityID       string  `json:"entity_id"`
	Priority       string  `json:"priority"`
	AssignmentType string  `json:"assignment_type"`
	Reason         string  `json:"reason"`
	ActorID        *string `json:"actor_id"`
}

// TransferAssignmentRequest describes a transfer payload.
type TransferAssignmentRequest struct {
	ToAgentID string  `json:"to_agent_id"`
	Reason    string  `json:"reason"`
	ActorID   *string `json:"actor_id"`
}

// EscalateAssignmentRequest describes an escalation payload.
type EscalateAssignmentRequest struct {
	ToAgentID *string `json:"to_agent_id"`
	Level     *int    `json:"level"`
	Reason    string  `json:"reason"`
	ActorID   *string `json:"actor_id"`
}

// CompleteAssignmentRequest describes a completion payload.
type CompleteAssignmentRequest struct {
	CompletionReason  string  `json:"completion_reason"`
	SatisfactionScore *int    `json:"satisfaction_score"`
	ActorID           *string `json:"actor_id"`
}

// CancelAssignmentRequest describes a cancellation payload.
type CancelAssignmentRequest struct {
	Reason  string  `json:"reason"`
	ActorID *string `json:"actor_id"`
}

// ThreadOpenedRequest carries a thread-opened webhook. Candidates feed
// workload-based routing when no agent is preset.
type ThreadOpenedRequest struct {
	AssignedAgent *string  `json:"assigned_agent"`
	Candidates    []string `json:"candidates"`
}

// ThreadReplyRequest carries one agent reply for response statistics.
type ThreadReplyRequest struct {
	CustomerMessageAt time.Time `json:"customer_message_at"`
	RepliedAt         time.Time `json:"replied_at"`
}

// AssignmentResponse is the external representation of an assignment.
type AssignmentResponse struct {
	ID                    string     `json:"id"`
	Code                  string     `json:"code"`
	AgentID               string     `json:"agent_id"`
	EntityType            string     `json:"entity_type"`
	EntityID              string     `json:"entity_id"`
	AssignmentType        string     `json:"assignment_type"`
	Priority              string     `json:"priority"`
	Status                string     `json:"status"`
	EscalationLevel       int        `json:"escalation_level"`
	AssignedAt            time.Time  `json:"assigned_at"`
	FirstResponseDeadline time.Time  `json:"first_response_deadline"`
	ResolutionDeadline    time.Time  `json:"resolution_deadline"`
	FirstRespondedAt      *time.Time `json:"first_responded_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CompletionReason      *string    `json:"completion_reason,omitempty"`
	SatisfactionScore     *int       `json:"satisfaction_score,omitempty"`
	ResponseCount         int        `json:"response_count"`
	AverageResponseSec    float64    `json:"average_response_seconds"`
	SLAHealth             string     `json:"sla_health,omitempty"`
}

// HistoryEntryResponse is one audit trail entry.
type HistoryEntryResponse struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	ActorID   *string        `json:"actor_id,omitempty"`
	OldValue  map[string]any `json:"old_value,omitempty"`
	NewValue  map[string]any `json:"new_value,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// FromAssignment maps the domain aggregate to its response shape.
func FromAssignment(a *domain.Assignment, health string) AssignmentResponse {
	return AssignmentResponse{
		ID:                    a.ID,
		Code:                  a.Code,
		AgentID:               a.AgentID,
		EntityType:            string(a.EntityType),
		EntityID:              a.EntityID,
		AssignmentType:        string(a.AssignmentType),
		Priority:              string(a.Priority),
		Status:                string(a.Status()),
		EscalationLevel:       a.EscalationLevel,
		AssignedAt:            a.AssignedAt,
		FirstResponseDeadline: a.FirstResponseDeadline,
		ResolutionDeadline:    a.ResolutionDeadline,
		FirstRespondedAt:      a.FirstRespondedAt,
		CompletedAt:           a.CompletedAt,
		CompletionReason:      a.CompletionReason,
		SatisfactionScore:     a.SatisfactionScore,
		ResponseCount:         a.ResponseCount,
		AverageResponseSec:    a.AverageResponseSeconds(),
		SLAHealth:             health,
	}
}

// FromHistory maps an audit entry to its response shape.
func FromHistory(entry *domain.AssignmentHistory) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:        entry.ID,
		Action:    string(entry.Action),
		ActorID:   entry.ActorID,
		OldValue:  entry.OldValue,
		NewValue:  entry.NewValue,
		Detail:    entry.Detail,
		CreatedAt: entry.CreatedAt,
	}
}
