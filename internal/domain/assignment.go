package domain

import "time"

// AssignmentPhase is the terminality axis of an assignment's lifecycle.
// An assignment stays open through any number of transfers and
// escalations; completed and cancelled are terminal.
type AssignmentPhase string

const (
	PhaseOpen      AssignmentPhase = "OPEN"
	PhaseCompleted AssignmentPhase = "COMPLETED"
	PhaseCancelled AssignmentPhase = "CANCELLED"
)

// AssignmentEvent is the last significant lifecycle event recorded on an
// assignment. It is orthogonal to the phase: a transferred assignment is
// still open.
type AssignmentEvent string

const (
	EventCreated     AssignmentEvent = "CREATED"
	EventTransferred AssignmentEvent = "TRANSFERRED"
	EventEscalated   AssignmentEvent = "ESCALATED"
	EventCompleted   AssignmentEvent = "COMPLETED"
	EventCancelled   AssignmentEvent = "CANCELLED"
)

// AssignmentStatus is the flattened five-value status exposed to callers
// and reports. It is derived from phase + last event, never stored.
type AssignmentStatus string

const (
	StatusActive      AssignmentStatus = "ACTIVE"
	StatusTransferred AssignmentStatus = "TRANSFERRED"
	StatusEscalated   AssignmentStatus = "ESCALATED"
	StatusCompleted   AssignmentStatus = "COMPLETED"
	StatusCancelled   AssignmentStatus = "CANCELLED"
)

// EntityType enumerates the kinds of work items an assignment can route.
type EntityType string

const (
	EntityThread  EntityType = "THREAD"
	EntityContact EntityType = "CONTACT"
	EntityTicket  EntityType = "TICKET"
)

// AssignmentType records how the owning agent was chosen. Informational
// only; it does not alter lifecycle rules.
type AssignmentType string

const (
	AssignManual        AssignmentType = "MANUAL"
	AssignAutomatic     AssignmentType = "AUTOMATIC"
	AssignRoundRobin    AssignmentType = "ROUND_ROBIN"
	AssignWorkloadBased AssignmentType = "WORKLOAD_BASED"
)

// Priority enumerates SLA urgency.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Assignment is the routing record linking one work entity to one
// responsible agent. At most one open assignment exists per
// (entity_type, entity_id) pair.
type Assignment struct {
	ID             string
	Code           string
	AgentID        string
	EntityType     EntityType
	EntityID       string
	AssignmentType AssignmentType
	Priority       Priority

	Phase     AssignmentPhase
	LastEvent AssignmentEvent

	EscalationLevel int

	AssignedAt            time.Time
	FirstResponseDeadline time.Time
	ResolutionDeadline    time.Time
	FirstRespondedAt      *time.Time
	CompletedAt           *time.Time
	ResponseCount         int
	TotalResponseSeconds  float64
	CompletionReason      *string
	SatisfactionScore     *int

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Status flattens the phase/event axes into the reporting status.
func (a *Assignment) Status() AssignmentStatus {
	switch a.Phase {
	case PhaseCompleted:
		return StatusCompleted
	case PhaseCancelled:
		return StatusCancelled
	}
	switch a.LastEvent {
	case EventTransferred:
		return StatusTransferred
	case EventEscalated:
		return StatusEscalated
	}
	return StatusActive
}

// IsTerminal reports whether the assignment accepts further transitions.
func (a *Assignment) IsTerminal() bool {
	return a.Phase == PhaseCompleted || a.Phase == PhaseCancelled
}

// AverageResponseSeconds returns the mean agent reply latency recorded so
// far, or 0 when no replies have been recorded.
func (a *Assignment) AverageResponseSeconds() float64 {
	if a.ResponseCount == 0 {
		return 0
	}
	return a.TotalResponseSeconds / float64(a.ResponseCount)
}

// ValidPriority reports whether p is a known priority value.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityThread, EntityContact, EntityTicket:
		return true
	}
	return false
}

// ValidAssignmentType reports whether t is a known assignment type.
func ValidAssignmentType(t AssignmentType) bool {
	switch t {
	case AssignManual, AssignAutomatic, AssignRoundRobin, AssignWorkloadBased:
		return true
	}
	return false
}
