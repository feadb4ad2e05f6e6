// Package engine exposes the assignment lifecycle operations: create,
// transfer, escalate, complete and cancel, with invariant checks done
// atomically per target record.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/domain"
	"github.com/boosty-org/assignment-engine/internal/events"
	"github.com/boosty-org/assignment-engine/internal/observability"
	"github.com/boosty-org/assignment-engine/internal/repository"
	"github.com/boosty-org/assignment-engine/internal/sla"
	"github.com/boosty-org/assignment-engine/internal/workload"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// AgentDirectory resolves agent identity for eligibility checks. It is
// an external collaborator; the engine never authenticates anyone.
type AgentDirectory interface {
	AgentExists(ctx context.Context, agentID string) (bool, error)
}

// StaticAgentDirectory answers existence checks from a fixed roster,
// for deployments without an identity service.
type StaticAgentDirectory struct {
	roster map[string]struct{}
}

func NewStaticAgentDirectory(agentIDs []string) *StaticAgentDirectory {
	roster := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		roster[id] = struct{}{}
	}
	return &StaticAgentDirectory{roster: roster}
}

func (d *StaticAgentDirectory) AgentExists(_ context.Context, agentID string) (bool, error) {
	_, ok := d.roster[agentID]
	return ok, nil
}

// Dependencies bundles collaborators for the engine.
type Dependencies struct {
	Assignments repository.AssignmentRepository
	History     repository.AssignmentHistoryRepository
	Tracker     *workload.Tracker
	SLA         *sla.Clock
	Agents      AgentDirectory
	Dispatcher  events.Dispatcher
	Clock       clock.Clock
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// Engine composes the registry, workload tracker, SLA clock, escalation
// chain and transfer coordinator behind one operation set.
type Engine struct {
	assignments repository.AssignmentRepository
	history     repository.AssignmentHistoryRepository
	tracker     *workload.Tracker
	slaClock    *sla.Clock
	agents      AgentDirectory
	dispatcher  events.Dispatcher
	clk         clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics

	transfers   *TransferCoordinator
	escalations *EscalationChain

	locks *keyedMutex
}

// New creates the engine.
func New(deps Dependencies, escalations *EscalationChain) *Engine {
	return &Engine{
		assignments: deps.Assignments,
		history:     deps.History,
		tracker:     deps.Tracker,
		slaClock:    deps.SLA,
		agents:      deps.Agents,
		dispatcher:  deps.Dispatcher,
		clk:         deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		transfers:   NewTransferCoordinator(),
		escalations: escalations,
		locks:       newKeyedMutex(),
	}
}

// EscalationChain exposes the composed chain, for the sweep worker.
func (e *Engine) EscalationChain() *EscalationChain { return e.escalations }

// SLAClock exposes the composed SLA clock, for the sweep worker.
func (e *Engine) SLAClock() *sla.Clock { return e.slaClock }

// CreateInput describes assignment creation.
type CreateInput struct {
	AgentID        string
	EntityType     domain.EntityType
	EntityID       string
	Priority       domain.Priority
	AssignmentType domain.AssignmentType
	Reason         string
	ActorID        *string
}

// Create opens a new assignment for a work entity. At most one open
// assignment may exist per (entity_type, entity_id); a second create is
// a conflict, never a silent duplicate.
func (e *Engine) Create(ctx context.Context, input CreateInput) (a *domain.Assignment, err error) {
	defer func() { e.record("create", err) }()

	input.AgentID = strings.TrimSpace(input.AgentID)
	input.EntityID = strings.TrimSpace(input.EntityID)
	var missing []string
	if input.AgentID == "" {
		missing = append(missing, "agent_id")
	}
	if input.EntityType == "" {
		missing = append(missing, "entity_type")
	}
	if input.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewRequiredFieldsMissing(missing...)
	}
	if !domain.ValidEntityType(input.EntityType) {
		return nil, apperrors.NewValidationError("unknown entity type", map[string]any{"entity_type": input.EntityType})
	}
	if input.Priority == "" {
		input.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(input.Priority) {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": input.Priority})
	}
	if input.AssignmentType == "" {
		input.AssignmentType = domain.AssignManual
	}
	if !domain.ValidAssignmentType(input.AssignmentType) {
		return nil, apperrors.NewValidationError("unknown assignment type", map[string]any{"assignment_type": input.AssignmentType})
	}
	if err := e.checkAgent(ctx, input.AgentID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(entityKey(input.EntityType, input.EntityID))
	defer unlock()

	existing, lookupErr := e.assignments.GetOpenByEntity(ctx, input.EntityType, input.EntityID)
	if lookupErr != nil && !errors.Is(lookupErr, pgx.ErrNoRows) {
		return nil, e.internal("create", "", lookupErr)
	}
	if existing != nil {
		return nil, apperrors.NewAssignmentExists(string(input.EntityType), input.EntityID)
	}

	// Reserve capacity before writing the row; the reservation is given
	// back if the insert fails.
	if ok, active := e.tracker.TryIncrement(ctx, input.AgentID); !ok {
		return nil, apperrors.NewCapacityExceeded(input.AgentID, active, e.tracker.HardCap())
	}

	now := e.clk.Now()
	firstResponse, resolution := e.slaClock.ComputeDeadlines(input.Priority, input.EntityType, now)
	a = &domain.Assignment{
		Code:                  generateAssignmentCode(),
		AgentID:               input.AgentID,
		EntityType:            input.EntityType,
		EntityID:              input.EntityID,
		AssignmentType:        input.AssignmentType,
		Priority:              input.Priority,
		Phase:                 domain.PhaseOpen,
		LastEvent:             domain.EventCreated,
		AssignedAt:            now,
		FirstResponseDeadline: firstResponse,
		ResolutionDeadline:    resolution,
	}

	if err := e.assignments.Create(ctx, a); err != nil {
		e.tracker.Decrement(ctx, a.AgentID, false)
		if errors.Is(err, repository.ErrDuplicateEntity) {
			return nil, apperrors.NewAssignmentExists(string(input.EntityType), input.EntityID)
		}
		return nil, e.internal("create", "", err)
	}

	e.recordHistory(ctx, a.ID, domain.ActionCreated, input.ActorID, nil, map[string]any{
		"agent_id":        a.AgentID,
		"entity_type":     a.EntityType,
		"entity_id":       a.EntityID,
		"priority":        a.Priority,
		"assignment_type": a.AssignmentType,
	}, input.Reason)
	e.publish(ctx, events.Event{
		Type:         events.EventAssignmentCreated,
		AssignmentID: a.ID,
		ActorID:      input.ActorID,
		Payload: events.AssignmentCreatedPayload{
			Code:               a.Code,
			AgentID:            a.AgentID,
			EntityType:         a.EntityType,
			EntityID:           a.EntityID,
			AssignmentType:     a.AssignmentType,
			Priority:           a.Priority,
			ResolutionDeadline: a.ResolutionDeadline,
		},
	})
	return a, nil
}

// Transfer moves the assignment to another agent. The same record is
// mutated in place; history is appended and both workload counters move
// together.
func (e *Engine) Transfer(ctx context.Context, assignmentID, toAgentID, reason string, actorID *string) (a *domain.Assignment, err error) {
	defer func() { e.record("transfer", err) }()

	if strings.TrimSpace(toAgentID) == "" {
		return nil, apperrors.NewToAgentIDRequired()
	}
	if err := e.checkAgent(ctx, toAgentID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(assignmentKey(assignmentID))
	defer unlock()

	a, err = e.loadForUpdate(ctx, "transfer", assignmentID)
	if err != nil {
		return nil, err
	}
	fromAgentID, err := e.transfers.Apply(a, toAgentID)
	if err != nil {
		return nil, err
	}
	// Both counters move in one tracker step so a concurrent operation
	// cannot land on the target between check and move. A failed persist
	// moves the unit back.
	if ok, active := e.tracker.TryMove(ctx, fromAgentID, a.AgentID); !ok {
		return nil, apperrors.NewCapacityExceeded(a.AgentID, active, e.tracker.HardCap())
	}
	if err := e.persist(ctx, "transfer", a); err != nil {
		e.tracker.Move(ctx, a.AgentID, fromAgentID)
		return nil, err
	}

	e.recordHistory(ctx, a.ID, domain.ActionTransferred, actorID,
		map[string]any{"agent_id": fromAgentID},
		map[string]any{"agent_id": a.AgentID},
		reason)
	e.publish(ctx, events.Event{
		Type:         events.EventAssignmentTransferred,
		AssignmentID: a.ID,
		ActorID:      actorID,
		Payload: events.AssignmentTransferredPayload{
			FromAgentID: fromAgentID,
			ToAgentID:   a.AgentID,
			Reason:      reason,
		},
	})
	return a, nil
}

// EscalateInput describes an escalation request. A nil Level raises by
// one step; a nil ToAgentID escalates in place ("flag for senior
// review" without reassignment).
type EscalateInput struct {
	ToAgentID *string
	Level     *int
	Reason    string
	ActorID   *string
}

// Escalate raises the escalation level, optionally reassigning in the
// same atomic step: with a target agent, level and ownership change
// together or not at all.
func (e *Engine) Escalate(ctx context.Context, assignmentID string, input EscalateInput) (a *domain.Assignment, err error) {
	defer func() { e.record("escalate", err) }()

	if input.ToAgentID != nil {
		if strings.TrimSpace(*input.ToAgentID) == "" {
			return nil, apperrors.NewToAgentIDRequired()
		}
		if err := e.checkAgent(ctx, *input.ToAgentID); err != nil {
			return nil, err
		}
	}

	unlock := e.locks.Lock(assignmentKey(assignmentID))
	defer unlock()

	a, err = e.loadForUpdate(ctx, "escalate", assignmentID)
	if err != nil {
		return nil, err
	}

	oldLevel, newLevel, err := e.escalations.Raise(a, input.Level)
	if err != nil {
		return nil, err
	}

	fromAgentID := ""
	if input.ToAgentID != nil && *input.ToAgentID != a.AgentID {
		fromAgentID = a.AgentID
		// Reserve on the target atomically; a rejected reservation leaves
		// both the level and the counters untouched.
		if ok, active := e.tracker.TryMove(ctx, fromAgentID, *input.ToAgentID); !ok {
			return nil, apperrors.NewCapacityExceeded(*input.ToAgentID, active, e.tracker.HardCap())
		}
		a.AgentID = *input.ToAgentID
	}

	if err := e.persist(ctx, "escalate", a); err != nil {
		if fromAgentID != "" {
			e.tracker.Move(ctx, a.AgentID, fromAgentID)
		}
		return nil, err
	}

	newValue := map[string]any{"escalation_level": newLevel}
	oldValue := map[string]any{"escalation_level": oldLevel}
	if fromAgentID != "" {
		oldValue["agent_id"] = fromAgentID
		newValue["agent_id"] = a.AgentID
	}
	e.recordHistory(ctx, a.ID, domain.ActionEscalated, input.ActorID, oldValue, newValue, input.Reason)
	e.publish(ctx, events.Event{
		Type:         events.EventAssignmentEscalated,
		AssignmentID: a.ID,
		ActorID:      input.ActorID,
		Payload: events.AssignmentEscalatedPayload{
			OldLevel:  oldLevel,
			NewLevel:  newLevel,
			ToAgentID: input.ToAgentID,
			Reason:    input.Reason,
		},
	})
	return a, nil
}

// Complete closes the assignment successfully. Completing an already
// terminal assignment fails with ASSIGNMENT_CLOSED and leaves workload
// counters untouched.
func (e *Engine) Complete(ctx context.Context, assignmentID, completionReason string, satisfactionScore *int, actorID *string) (a *domain.Assignment, err error) {
	defer func() { e.record("complete", err) }()

	completionReason = strings.TrimSpace(completionReason)
	if completionReason == "" {
		return nil, apperrors.NewCompletionReasonRequired()
	}
	if satisfactionScore != nil && (*satisfactionScore < 1 || *satisfactionScore > 5) {
		return nil, apperrors.NewValidationError("satisfaction score must be between 1 and 5", map[string]any{
			"satisfaction_score": *satisfactionScore,
		})
	}

	unlock := e.locks.Lock(assignmentKey(assignmentID))
	defer unlock()

	a, err = e.loadForUpdate(ctx, "complete", assignmentID)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, apperrors.NewAssignmentClosed(a.ID)
	}

	now := e.clk.Now()
	a.Phase = domain.PhaseCompleted
	a.LastEvent = domain.EventCompleted
	a.CompletedAt = &now
	a.CompletionReason = &completionReason
	a.SatisfactionScore = satisfactionScore

	if err := e.persist(ctx, "complete", a); err != nil {
		return nil, err
	}

	e.tracker.Decrement(ctx, a.AgentID, true)
	newValue := map[string]any{"phase": a.Phase, "completion_reason": completionReason}
	if satisfactionScore != nil {
		newValue["satisfaction_score"] = *satisfactionScore
	}
	e.recordHistory(ctx, a.ID, domain.ActionCompleted, actorID,
		map[string]any{"phase": domain.PhaseOpen}, newValue, completionReason)
	e.publish(ctx, events.Event{
		Type:         events.EventAssignmentCompleted,
		AssignmentID: a.ID,
		ActorID:      actorID,
		Payload: events.AssignmentCompletedPayload{
			AgentID:           a.AgentID,
			CompletionReason:  completionReason,
			SatisfactionScore: satisfactionScore,
		},
	})
	return a, nil
}

// Cancel closes the assignment without completion semantics.
func (e *Engine) Cancel(ctx context.Context, assignmentID, reason string, actorID *string) (a *domain.Assignment, err error) {
	defer func() { e.record("cancel", err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("cancellation reason required", nil)
	}

	unlock := e.locks.Lock(assignmentKey(assignmentID))
	defer unlock()

	a, err = e.loadForUpdate(ctx, "cancel", assignmentID)
	if err != nil {
		return nil, err
	}
	if a.IsTerminal() {
		return nil, apperrors.NewAssignmentClosed(a.ID)
	}

	now := e.clk.Now()
	a.Phase = domain.PhaseCancelled
	a.LastEvent = domain.EventCancelled
	a.CompletedAt = &now
	a.CompletionReason = &reason

	if err := e.persist(ctx, "cancel", a); err != nil {
		return nil, err
	}

	e.tracker.Decrement(ctx, a.AgentID, false)
	e.recordHistory(ctx, a.ID, domain.ActionCancelled, actorID,
		map[string]any{"phase": domain.PhaseOpen},
		map[string]any{"phase": a.Phase, "reason": reason},
		reason)
	e.publish(ctx, events.Event{
		Type:         events.EventAssignmentCancelled,
		AssignmentID: a.ID,
		ActorID:      actorID,
		Payload: events.AssignmentCancelledPayload{
			AgentID: a.AgentID,
			Reason:  reason,
		},
	})
	return a, nil
}

// RecordResponse feeds an agent reply into the assignment's response
// statistics. The first recorded reply settles the first-response
// obligation.
func (e *Engine) RecordResponse(ctx context.Context, assignmentID string, customerMessageAt, respondedAt time.Time) (err error) {
	defer func() { e.record("record_response", err) }()

	unlock := e.locks.Lock(assignmentKey(assignmentID))
	defer unlock()

	a, err := e.loadForUpdate(ctx, "record_response", assignmentID)
	if err != nil {
		return err
	}
	if a.IsTerminal() {
		return apperrors.NewAssignmentClosed(a.ID)
	}

	latency := respondedAt.Sub(customerMessageAt)
	if latency < 0 {
		latency = 0
	}
	if a.FirstRespondedAt == nil {
		at := respondedAt
		a.FirstRespondedAt = &at
	}
	a.ResponseCount++
	a.TotalResponseSeconds += latency.Seconds()

	if err := e.persist(ctx, "record_response", a); err != nil {
		return err
	}

	e.recordHistory(ctx, a.ID, domain.ActionResponseRecorded, nil, nil, map[string]any{
		"response_count":   a.ResponseCount,
		"latency_seconds":  latency.Seconds(),
		"avg_response_sec": a.AverageResponseSeconds(),
	}, "")
	return nil
}

// Get fetches an assignment by id.
func (e *Engine) Get(ctx context.Context, assignmentID string) (*domain.Assignment, error) {
	a, err := e.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAssignmentNotFound(assignmentID)
		}
		return nil, e.internal("get", assignmentID, err)
	}
	return a, nil
}

// GetByCode fetches an assignment by its human-readable code.
func (e *Engine) GetByCode(ctx context.Context, code string) (*domain.Assignment, error) {
	a, err := e.assignments.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAssignmentNotFound(code)
		}
		return nil, e.internal("get_by_code", code, err)
	}
	return a, nil
}

// OpenForEntity fetches the open assignment for a work entity, if any.
func (e *Engine) OpenForEntity(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.Assignment, error) {
	a, err := e.assignments.GetOpenByEntity(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAssignmentNotFound(entityID)
		}
		return nil, e.internal("open_for_entity", entityID, err)
	}
	return a, nil
}

// List returns assignments matching the filter.
func (e *Engine) List(ctx context.Context, filter repository.AssignmentFilter) ([]domain.Assignment, error) {
	result, err := e.assignments.ListWithFilter(ctx, filter)
	if err != nil {
		return nil, e.internal("list", "", err)
	}
	return result, nil
}

// History returns the audit trail for an assignment.
func (e *Engine) History(ctx context.Context, assignmentID string) ([]domain.AssignmentHistory, error) {
	if _, err := e.Get(ctx, assignmentID); err != nil {
		return nil, err
	}
	entries, err := e.history.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, e.internal("history", assignmentID, err)
	}
	return entries, nil
}

// Overdue returns all currently overdue open assignments.
func (e *Engine) Overdue(ctx context.Context) ([]domain.Assignment, error) {
	result, err := e.slaClock.FindOverdue(ctx, e.clk.Now())
	if err != nil {
		return nil, e.internal("overdue", "", err)
	}
	return result, nil
}

// Workload returns the agent's current workload snapshot.
func (e *Engine) Workload(agentID string, window time.Duration) domain.WorkloadSnapshot {
	return e.tracker.Snapshot(agentID, window)
}

func (e *Engine) checkAgent(ctx context.Context, agentID string) error {
	if e.agents == nil {
		return nil
	}
	exists, err := e.agents.AgentExists(ctx, agentID)
	if err != nil {
		return e.internal("agent_lookup", agentID, err)
	}
	if !exists {
		return apperrors.NewValidationError("unknown agent", map[string]any{"agent_id": agentID})
	}
	return nil
}

// loadForUpdate fetches the assignment under the caller-held record
// lock, mapping missing rows to ASSIGNMENT_NOT_FOUND.
func (e *Engine) loadForUpdate(ctx context.Context, op, assignmentID string) (*domain.Assignment, error) {
	a, err := e.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewAssignmentNotFound(assignmentID)
		}
		return nil, e.internal(op, assignmentID, err)
	}
	return a, nil
}

func (e *Engine) persist(ctx context.Context, op string, a *domain.Assignment) error {
	if err := e.assignments.Update(ctx, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewAssignmentNotFound(a.ID)
		}
		return e.internal(op, a.ID, err)
	}
	return nil
}

func (e *Engine) internal(op, assignmentID string, err error) error {
	e.logger.Error("assignment operation failed",
		zap.String("operation", op),
		zap.String("assignment_id", assignmentID),
		zap.Error(err))
	return apperrors.NewInternalError(err)
}

func (e *Engine) recordHistory(ctx context.Context, assignmentID string, action domain.HistoryAction, actorID *string, oldValue, newValue map[string]any, detail string) {
	if e.history == nil {
		return
	}
	entry := &domain.AssignmentHistory{
		AssignmentID: assignmentID,
		Action:       action,
		ActorID:      actorID,
		OldValue:     oldValue,
		NewValue:     newValue,
		Detail:       detail,
	}
	if err := e.history.Create(ctx, entry); err != nil {
		e.logger.Error("history append failed",
			zap.String("assignment_id", assignmentID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.clk.Now()
	}
	_ = e.dispatcher.Publish(ctx, event)
}

func (e *Engine) record(op string, err error) {
	e.metrics.RecordOperation(op, apperrors.CodeOf(err))
}

func entityKey(entityType domain.EntityType, entityID string) string {
	return fmt.Sprintf("entity:%s:%s", entityType, entityID)
}

func assignmentKey(assignmentID string) string {
	return "assignment:" + assignmentID
}

func generateAssignmentCode() string {
	return "ASG-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
