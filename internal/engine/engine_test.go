package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/config"
	"github.com/boosty-org/assignment-engine/internal/domain"
	"github.com/boosty-org/assignment-engine/internal/events"
	"github.com/boosty-org/assignment-engine/internal/repository"
	"github.com/boosty-org/assignment-engine/internal/sla"
	"github.com/boosty-org/assignment-engine/internal/workload"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// memAssignments is an in-memory AssignmentRepository mirroring the
// postgres semantics the engine relies on: the partial unique constraint
// on open entities and the version compare-and-set on update.
type memAssignments struct {
	mu    sync.Mutex
	seq   int
	items map[string]*domain.Assignment
}

func newMemAssignments() *memAssignments {
	return &memAssignments{items: make(map[string]*domain.Assignment)}
}

func (m *memAssignments) Create(ctx context.Context, a *domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Phase == domain.PhaseOpen && existing.EntityType == a.EntityType && existing.EntityID == a.EntityID {
			return repository.ErrDuplicateEntity
		}
	}
	m.seq++
	a.ID = fmt.Sprintf("a-%d", m.seq)
	a.Version = 1
	a.CreatedAt = a.AssignedAt
	a.UpdatedAt = a.AssignedAt
	clone := *a
	m.items[a.ID] = &clone
	return nil
}

func (m *memAssignments) Update(ctx context.Context, a *domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[a.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Version != a.Version {
		return repository.ErrVersionConflict
	}
	a.Version++
	clone := *a
	m.items[a.ID] = &clone
	return nil
}

func (m *memAssignments) GetByID(ctx context.Context, id string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	clone := *stored
	return &clone, nil
}

func (m *memAssignments) GetByCode(ctx context.Context, code string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.items {
		if stored.Code == code {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memAssignments) GetOpenByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stored := range m.items {
		if stored.Phase == domain.PhaseOpen && stored.EntityType == entityType && stored.EntityID == entityID {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memAssignments) ListWithFilter(ctx context.Context, filter repository.AssignmentFilter) ([]domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Assignment
	for _, stored := range m.items {
		if filter.AgentID != nil && stored.AgentID != *filter.AgentID {
			continue
		}
		if filter.EntityType != nil && stored.EntityType != *filter.EntityType {
			continue
		}
		if filter.EntityID != nil && stored.EntityID != *filter.EntityID {
			continue
		}
		if len(filter.Phases) > 0 {
			match := false
			for _, phase := range filter.Phases {
				if stored.Phase == phase {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		result = append(result, *stored)
	}
	return result, nil
}

func (m *memAssignments) ListOverdueCandidates(ctx context.Context, now time.Time) ([]domain.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Assignment
	for _, stored := range m.items {
		if stored.Phase != domain.PhaseOpen {
			continue
		}
		if stored.ResolutionDeadline.Before(now) ||
			(stored.FirstRespondedAt == nil && stored.FirstResponseDeadline.Before(now)) {
			result = append(result, *stored)
		}
	}
	return result, nil
}

func (m *memAssignments) CountOpenByAgent(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, stored := range m.items {
		if stored.Phase == domain.PhaseOpen {
			counts[stored.AgentID]++
		}
	}
	return counts, nil
}

type memHistory struct {
	mu      sync.Mutex
	entries []domain.AssignmentHistory
}

func (m *memHistory) Create(ctx context.Context, entry *domain.AssignmentHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = fmt.Sprintf("h-%d", len(m.entries)+1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memHistory) ListByAssignment(ctx context.Context, assignmentID string) ([]domain.AssignmentHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.AssignmentHistory
	for _, entry := range m.entries {
		if entry.AssignmentID == assignmentID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (m *memHistory) actions(assignmentID string) []domain.HistoryAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var actions []domain.HistoryAction
	for _, entry := range m.entries {
		if entry.AssignmentID == assignmentID {
			actions = append(actions, entry.Action)
		}
	}
	return actions
}

type fixture struct {
	engine  *Engine
	repo    *memAssignments
	history *memHistory
	tracker *workload.Tracker
	clk     *clock.Fixed
	events  *capturedEvents
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) handler() events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, event)
		return nil
	}
}

func (c *capturedEvents) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []events.EventType
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

func newFixture(t *testing.T, hardCap int) *fixture {
	t.Helper()
	repo := newMemAssignments()
	history := &memHistory{}
	clk := clock.NewFixed(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	tracker := workload.NewTracker(config.WorkloadConfig{MaxCapacity: 20, HardCap: hardCap}, clk, nil, zap.NewNop())
	dispatcher := events.NewInMemoryDispatcher()
	captured := &capturedEvents{}
	for _, eventType := range events.AllTypes() {
		dispatcher.Subscribe(eventType, captured.handler())
	}

	eng := New(Dependencies{
		Assignments: repo,
		History:     history,
		Tracker:     tracker,
		SLA:         sla.NewClock(sla.DefaultPolicy(), 0.20, repo),
		Dispatcher:  dispatcher,
		Clock:       clk,
		Logger:      zap.NewNop(),
	}, NewEscalationChain(3))

	return &fixture{engine: eng, repo: repo, history: history, tracker: tracker, clk: clk, events: captured}
}

func codeOf(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	return domainErr.Code
}

func TestStaticAgentDirectoryGatesOperations(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	eng := New(Dependencies{
		Assignments: f.repo,
		History:     f.history,
		Tracker:     f.tracker,
		SLA:         sla.NewClock(sla.DefaultPolicy(), 0.20, f.repo),
		Agents:      NewStaticAgentDirectory([]string{"agent-1", "agent-2"}),
		Clock:       f.clk,
		Logger:      zap.NewNop(),
	}, NewEscalationChain(3))

	_, err := eng.Create(ctx, CreateInput{AgentID: "ghost", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Fatalf("create for unknown agent: code = %s, want VALIDATION_ERROR", got)
	}

	a, err := eng.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create for rostered agent: %v", err)
	}

	if _, err := eng.Transfer(ctx, a.ID, "ghost", "", nil); codeOf(t, err) != apperrors.CodeValidation {
		t.Error("transfer to unknown agent allowed")
	}
	if _, err := eng.Transfer(ctx, a.ID, "agent-2", "", nil); err != nil {
		t.Errorf("transfer to rostered agent: %v", err)
	}
}

func TestCreateAssignsDeadlinesAndDefaults(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{
		AgentID:    "agent-1",
		EntityType: domain.EntityThread,
		EntityID:   "thread-1",
		Priority:   domain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if a.ID == "" || a.Code == "" {
		t.Fatalf("missing identifiers: id=%q code=%q", a.ID, a.Code)
	}
	if a.Status() != domain.StatusActive {
		t.Errorf("status = %s, want ACTIVE", a.Status())
	}
	if a.AssignmentType != domain.AssignManual {
		t.Errorf("assignment type = %s, want MANUAL default", a.AssignmentType)
	}
	now := f.clk.Now()
	if got, want := a.FirstResponseDeadline, now.Add(time.Hour); !got.Equal(want) {
		t.Errorf("first response deadline = %v, want %v", got, want)
	}
	if got, want := a.ResolutionDeadline, now.Add(8*time.Hour); !got.Equal(want) {
		t.Errorf("resolution deadline = %v, want %v", got, want)
	}
	if f.tracker.Active("agent-1") != 1 {
		t.Errorf("active count = %d, want 1", f.tracker.Active("agent-1"))
	}
	if got := f.events.types(); len(got) != 1 || got[0] != events.EventAssignmentCreated {
		t.Errorf("events = %v, want one assignment.created", got)
	}
}

func TestCreateDefaultsPriorityToMedium(t *testing.T) {
	f := newFixture(t, 0)

	a, err := f.engine.Create(context.Background(), CreateInput{
		AgentID:    "agent-1",
		EntityType: domain.EntityTicket,
		EntityID:   "ticket-9",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Priority != domain.PriorityMedium {
		t.Errorf("priority = %s, want MEDIUM", a.Priority)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInput
		code  string
	}{
		{"missing everything", CreateInput{}, apperrors.CodeRequiredFieldsMissing},
		{"missing agent", CreateInput{EntityType: domain.EntityThread, EntityID: "t1"}, apperrors.CodeRequiredFieldsMissing},
		{"blank agent", CreateInput{AgentID: "   ", EntityType: domain.EntityThread, EntityID: "t1"}, apperrors.CodeRequiredFieldsMissing},
		{"bad entity type", CreateInput{AgentID: "a", EntityType: "WIDGET", EntityID: "t1"}, apperrors.CodeValidation},
		{"bad priority", CreateInput{AgentID: "a", EntityType: domain.EntityThread, EntityID: "t1", Priority: "SOMEDAY"}, apperrors.CodeValidation},
		{"bad assignment type", CreateInput{AgentID: "a", EntityType: domain.EntityThread, EntityID: "t1", AssignmentType: "COIN_FLIP"}, apperrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tt.input)
			if got := codeOf(t, err); got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestCreateDuplicateEntityConflictIsNonDestructive(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = f.engine.Create(ctx, CreateInput{AgentID: "agent-2", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if got := codeOf(t, err); got != apperrors.CodeAssignmentExists {
		t.Fatalf("code = %s, want ASSIGNMENT_EXISTS", got)
	}

	kept, err := f.engine.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if kept.AgentID != "agent-1" || kept.Phase != domain.PhaseOpen {
		t.Errorf("first assignment mutated by conflicting create: %+v", kept)
	}
	if f.tracker.Active("agent-2") != 0 {
		t.Errorf("loser's counter moved: %d", f.tracker.Active("agent-2"))
	}
}

func TestCreateConcurrentSameEntityOneWinner(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Create(ctx, CreateInput{
				AgentID:    fmt.Sprintf("agent-%d", i),
				EntityType: domain.EntityContact,
				EntityID:   "contact-7",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.CodeOf(err) == apperrors.CodeAssignmentExists:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
	if conflicts != writers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, writers-1)
	}
}

func TestTransferMovesOwnershipAndPreservesDeadlines(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1", Priority: domain.PriorityUrgent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	firstDeadline, resolutionDeadline := a.FirstResponseDeadline, a.ResolutionDeadline

	f.clk.Advance(30 * time.Minute)
	moved, err := f.engine.Transfer(ctx, a.ID, "agent-2", "handoff", nil)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if moved.AgentID != "agent-2" {
		t.Errorf("agent = %s, want agent-2", moved.AgentID)
	}
	if moved.Status() != domain.StatusTransferred {
		t.Errorf("status = %s, want TRANSFERRED", moved.Status())
	}
	if moved.Phase != domain.PhaseOpen {
		t.Errorf("phase = %s, want OPEN", moved.Phase)
	}
	if !moved.FirstResponseDeadline.Equal(firstDeadline) || !moved.ResolutionDeadline.Equal(resolutionDeadline) {
		t.Error("transfer changed SLA deadlines")
	}
	if f.tracker.Active("agent-1") != 0 || f.tracker.Active("agent-2") != 1 {
		t.Errorf("counters = (%d, %d), want (0, 1)",
			f.tracker.Active("agent-1"), f.tracker.Active("agent-2"))
	}
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("missing target", func(t *testing.T) {
		_, err := f.engine.Transfer(ctx, a.ID, "  ", "", nil)
		if got := codeOf(t, err); got != apperrors.CodeToAgentIDRequired {
			t.Errorf("code = %s, want TO_AGENT_ID_REQUIRED", got)
		}
	})
	t.Run("same agent", func(t *testing.T) {
		_, err := f.engine.Transfer(ctx, a.ID, "agent-1", "", nil)
		if got := codeOf(t, err); got != apperrors.CodeValidation {
			t.Errorf("code = %s, want VALIDATION_ERROR", got)
		}
	})
	t.Run("unknown assignment", func(t *testing.T) {
		_, err := f.engine.Transfer(ctx, "missing", "agent-2", "", nil)
		if got := codeOf(t, err); got != apperrors.CodeAssignmentNotFound {
			t.Errorf("code = %s, want ASSIGNMENT_NOT_FOUND", got)
		}
	})
	t.Run("terminal assignment", func(t *testing.T) {
		if _, err := f.engine.Complete(ctx, a.ID, "done", nil, nil); err != nil {
			t.Fatalf("complete: %v", err)
		}
		_, err := f.engine.Transfer(ctx, a.ID, "agent-2", "", nil)
		if got := codeOf(t, err); got != apperrors.CodeAssignmentClosed {
			t.Errorf("code = %s, want ASSIGNMENT_CLOSED", got)
		}
	})
}

func TestEscalateStepsAndExplicitLevels(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	a, err = f.engine.Escalate(ctx, a.ID, EscalateInput{Reason: "stalled"})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if a.EscalationLevel != 1 {
		t.Errorf("level = %d, want 1", a.EscalationLevel)
	}
	if a.Status() != domain.StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", a.Status())
	}

	level := 4
	a, err = f.engine.Escalate(ctx, a.ID, EscalateInput{Level: &level})
	if err != nil {
		t.Fatalf("escalate to level: %v", err)
	}
	if a.EscalationLevel != 4 {
		t.Errorf("level = %d, want 4", a.EscalationLevel)
	}

	retrograde := 2
	_, err = f.engine.Escalate(ctx, a.ID, EscalateInput{Level: &retrograde})
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("retrograde level: code = %s, want VALIDATION_ERROR", got)
	}
	same := 4
	_, err = f.engine.Escalate(ctx, a.ID, EscalateInput{Level: &same})
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("same level: code = %s, want VALIDATION_ERROR", got)
	}
}

func TestEscalateWithReassignmentIsAtomic(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Fill the senior agent so the reassignment leg must fail.
	if _, err := f.engine.Create(ctx, CreateInput{AgentID: "senior", EntityType: domain.EntityThread, EntityID: "thread-2"}); err != nil {
		t.Fatalf("create filler: %v", err)
	}

	senior := "senior"
	_, err = f.engine.Escalate(ctx, a.ID, EscalateInput{ToAgentID: &senior, Reason: "needs senior"})
	if got := codeOf(t, err); got != apperrors.CodeCapacityExceeded {
		t.Fatalf("code = %s, want CAPACITY_EXCEEDED", got)
	}

	reloaded, err := f.engine.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.EscalationLevel != 0 || reloaded.AgentID != "agent-1" {
		t.Errorf("failed escalation partially applied: level=%d agent=%s",
			reloaded.EscalationLevel, reloaded.AgentID)
	}
}

func TestEscalateWithReassignmentMovesBoth(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	senior := "senior"
	a, err = f.engine.Escalate(ctx, a.ID, EscalateInput{ToAgentID: &senior})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if a.EscalationLevel != 1 || a.AgentID != "senior" {
		t.Errorf("got level=%d agent=%s, want level=1 agent=senior", a.EscalationLevel, a.AgentID)
	}
	if f.tracker.Active("agent-1") != 0 || f.tracker.Active("senior") != 1 {
		t.Errorf("counters = (%d, %d), want (0, 1)",
			f.tracker.Active("agent-1"), f.tracker.Active("senior"))
	}
}

func TestCompleteClosesAndRejectsRepeats(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	score := 5
	f.clk.Advance(2 * time.Hour)
	done, err := f.engine.Complete(ctx, a.ID, "resolved", &score, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status() != domain.StatusCompleted || !done.IsTerminal() {
		t.Errorf("status = %s, want COMPLETED terminal", done.Status())
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(f.clk.Now()) {
		t.Errorf("completed_at = %v, want %v", done.CompletedAt, f.clk.Now())
	}
	if done.SatisfactionScore == nil || *done.SatisfactionScore != 5 {
		t.Error("satisfaction score not recorded")
	}
	if f.tracker.Active("agent-1") != 0 {
		t.Errorf("active count = %d, want 0", f.tracker.Active("agent-1"))
	}

	_, err = f.engine.Complete(ctx, a.ID, "resolved again", nil, nil)
	if got := codeOf(t, err); got != apperrors.CodeAssignmentClosed {
		t.Fatalf("second complete: code = %s, want ASSIGNMENT_CLOSED", got)
	}
	if f.tracker.Active("agent-1") != 0 {
		t.Errorf("rejected complete moved the counter: %d", f.tracker.Active("agent-1"))
	}
}

func TestCompleteValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.engine.Complete(ctx, a.ID, "  ", nil, nil)
	if got := codeOf(t, err); got != apperrors.CodeCompletionReasonRequired {
		t.Errorf("blank reason: code = %s, want COMPLETION_REASON_REQUIRED", got)
	}

	for _, score := range []int{0, 6, -1} {
		s := score
		_, err = f.engine.Complete(ctx, a.ID, "resolved", &s, nil)
		if got := codeOf(t, err); got != apperrors.CodeValidation {
			t.Errorf("score %d: code = %s, want VALIDATION_ERROR", score, got)
		}
	}
}

func TestCancelClosesWithoutCompletionSemantics(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = f.engine.Cancel(ctx, a.ID, "", nil)
	if got := codeOf(t, err); got != apperrors.CodeValidation {
		t.Errorf("blank reason: code = %s, want VALIDATION_ERROR", got)
	}

	cancelled, err := f.engine.Cancel(ctx, a.ID, "customer withdrew", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status() != domain.StatusCancelled || !cancelled.IsTerminal() {
		t.Errorf("status = %s, want CANCELLED terminal", cancelled.Status())
	}
	if f.tracker.Active("agent-1") != 0 {
		t.Errorf("active count = %d, want 0", f.tracker.Active("agent-1"))
	}

	_, err = f.engine.Cancel(ctx, a.ID, "again", nil)
	if got := codeOf(t, err); got != apperrors.CodeAssignmentClosed {
		t.Errorf("second cancel: code = %s, want ASSIGNMENT_CLOSED", got)
	}
}

func TestEntityReleasedAfterTerminalState(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Complete(ctx, a.ID, "resolved", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reopened, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-2", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create after close: %v", err)
	}
	if reopened.ID == a.ID {
		t.Error("new assignment reused the closed record")
	}
}

func TestHardCapRejectsCreateAndTransfer(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: fmt.Sprintf("thread-%d", i)}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-extra"})
	if got := codeOf(t, err); got != apperrors.CodeCapacityExceeded {
		t.Fatalf("create over cap: code = %s, want CAPACITY_EXCEEDED", got)
	}

	other, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-2", EntityType: domain.EntityThread, EntityID: "thread-other"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	_, err = f.engine.Transfer(ctx, other.ID, "agent-1", "", nil)
	if got := codeOf(t, err); got != apperrors.CodeCapacityExceeded {
		t.Errorf("transfer over cap: code = %s, want CAPACITY_EXCEEDED", got)
	}
}

func TestHardCapHoldsUnderConcurrentCreates(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.engine.Create(ctx, CreateInput{
				AgentID:    "agent-1",
				EntityType: domain.EntityThread,
				EntityID:   fmt.Sprintf("thread-%d", i),
			})
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var wins, rejected int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.CodeOf(err) == apperrors.CodeCapacityExceeded:
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1 under cap 1", wins)
	}
	if rejected != writers-1 {
		t.Errorf("rejected = %d, want %d", rejected, writers-1)
	}
	if active := f.tracker.Active("agent-1"); active != 1 {
		t.Errorf("agent-1 active = %d after concurrent creates, want 1", active)
	}
}

func TestRecordResponseSettlesFirstResponseOnce(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	asked := f.clk.Now()
	answered := asked.Add(10 * time.Minute)
	if err := f.engine.RecordResponse(ctx, a.ID, asked, answered); err != nil {
		t.Fatalf("first response: %v", err)
	}

	reloaded, _ := f.engine.Get(ctx, a.ID)
	if reloaded.FirstRespondedAt == nil || !reloaded.FirstRespondedAt.Equal(answered) {
		t.Fatalf("first_responded_at = %v, want %v", reloaded.FirstRespondedAt, answered)
	}

	askedAgain := answered.Add(time.Hour)
	if err := f.engine.RecordResponse(ctx, a.ID, askedAgain, askedAgain.Add(20*time.Minute)); err != nil {
		t.Fatalf("second response: %v", err)
	}

	reloaded, _ = f.engine.Get(ctx, a.ID)
	if !reloaded.FirstRespondedAt.Equal(answered) {
		t.Error("second reply moved first_responded_at")
	}
	if reloaded.ResponseCount != 2 {
		t.Errorf("response count = %d, want 2", reloaded.ResponseCount)
	}
	if got, want := reloaded.AverageResponseSeconds(), float64(15*60); got != want {
		t.Errorf("average response = %v, want %v", got, want)
	}
}

func TestWorkloadConservationAcrossLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: fmt.Sprintf("thread-%d", i)})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, a.ID)
	}

	if _, err := f.engine.Transfer(ctx, ids[0], "agent-2", "", nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.engine.Complete(ctx, ids[1], "resolved", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, ids[2], "withdrawn", nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, err := f.repo.CountOpenByAgent(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	for agent, want := range map[string]int{"agent-1": 1, "agent-2": 1} {
		if stored[agent] != want {
			t.Errorf("stored open count for %s = %d, want %d", agent, stored[agent], want)
		}
		if got := f.tracker.Active(agent); got != want {
			t.Errorf("tracker count for %s = %d, want %d", agent, got, want)
		}
	}
}

func TestTransferThenCompleteZeroesBothAgents(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Transfer(ctx, a.ID, "agent-2", "handoff", nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.engine.Complete(ctx, a.ID, "resolved", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if got := f.tracker.Active("agent-1"); got != 0 {
		t.Errorf("agent-1 active = %d, want 0", got)
	}
	if got := f.tracker.Active("agent-2"); got != 0 {
		t.Errorf("agent-2 active = %d, want 0", got)
	}
	trail := f.history.actions(a.ID)
	if len(trail) != 3 {
		t.Fatalf("history = %v, want created/transferred/completed", trail)
	}
}

func TestHistoryTrailCoversLifecycle(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Transfer(ctx, a.ID, "agent-2", "handoff", nil); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := f.engine.Escalate(ctx, a.ID, EscalateInput{Reason: "stalled"}); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if _, err := f.engine.Complete(ctx, a.ID, "resolved", nil, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []domain.HistoryAction{
		domain.ActionCreated,
		domain.ActionTransferred,
		domain.ActionEscalated,
		domain.ActionCompleted,
	}
	got := f.history.actions(a.ID)
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	types := f.events.types()
	if len(types) != 4 {
		t.Errorf("published events = %v, want 4 entries", types)
	}
}

func TestOverdueListsBreachedAssignments(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	urgent, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-urgent", Priority: domain.PriorityUrgent})
	if err != nil {
		t.Fatalf("create urgent: %v", err)
	}
	if _, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-1", EntityType: domain.EntityThread, EntityID: "thread-low", Priority: domain.PriorityLow}); err != nil {
		t.Fatalf("create low: %v", err)
	}

	// Past the urgent resolution window, well inside the low priority one.
	f.clk.Advance(5 * time.Hour)

	overdue, err := f.engine.Overdue(ctx)
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != urgent.ID {
		t.Fatalf("overdue = %v, want only the urgent assignment", overdue)
	}
}
