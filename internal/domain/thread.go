package domain

import "time"

// ThreadStatus enumerates lifecycle states for message threads. Threads
// are owned by an external store; the engine only reads identity and
// priority and links assignments back.
type ThreadStatus string

const (
	ThreadStatusActive ThreadStatus = "ACTIVE"
	ThreadStatusClosed ThreadStatus = "CLOSED"
)

// ParticipantRole tags thread participants.
type ParticipantRole string

const (
	ParticipantAgent   ParticipantRole = "AGENT"
	ParticipantContact ParticipantRole = "CONTACT"
	ParticipantSystem  ParticipantRole = "SYSTEM"
)

// ThreadParticipant is a role-tagged member of a thread.
type ThreadParticipant struct {
	ID   string
	Role ParticipantRole
}

// MessageThread is the externally owned conversation entity consumed by
// the engine as an assignable work item.
type MessageThread struct {
	ID            string
	Status        ThreadStatus
	Priority      Priority
	Participants  []ThreadParticipant
	AssignedAgent *string
	MessageCount  int
	UnreadCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MessageStatus enumerates delivery states for thread messages.
type MessageStatus string

const (
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
	MessageFailed    MessageStatus = "FAILED"
)

// Message belongs to exactly one thread. Its only coupling to the engine
// is that reply activity feeds response statistics on the assignment.
type Message struct {
	ID         string
	ThreadID   string
	SenderID   string
	SenderRole ParticipantRole
	Status     MessageStatus
	Body       string
	SentAt     time.Time
}
