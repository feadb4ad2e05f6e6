package domain

import "time"

// HistoryAction captures what happened in an audit entry.
type HistoryAction string

const (
	ActionCreated          HistoryAction = "CREATED"
	ActionTransferred      HistoryAction = "TRANSFERRED"
	ActionEscalated        HistoryAction = "ESCALATED"
	ActionCompleted        HistoryAction = "COMPLETED"
	ActionCancelled        HistoryAction = "CANCELLED"
	ActionResponseRecorded HistoryAction = "RESPONSE_RECORDED"
)

// AssignmentHistory is an immutable, append-only audit trail entry.
// Entries are never mutated or reordered after creation.
type AssignmentHistory struct {
	ID           string
	AssignmentID string
	Action       HistoryAction
	ActorID      *string
	OldValue     map[string]any
	NewValue     map[string]any
	Detail       string
	CreatedAt    time.Time
}
