package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

type fakeThreadStore struct {
	priorities map[string]domain.Priority
	assigned   map[string]string
	closed     map[string]bool
	notifyErr  error
}

func newFakeThreadStore() *fakeThreadStore {
	return &fakeThreadStore{
		priorities: make(map[string]domain.Priority),
		assigned:   make(map[string]string),
		closed:     make(map[string]bool),
	}
}

func (s *fakeThreadStore) GetThreadPriority(ctx context.Context, threadID string) (domain.Priority, error) {
	if p, ok := s.priorities[threadID]; ok {
		return p, nil
	}
	return domain.PriorityMedium, nil
}

func (s *fakeThreadStore) NotifyAssigned(ctx context.Context, threadID, agentID string) error {
	if s.notifyErr != nil {
		return s.notifyErr
	}
	s.assigned[threadID] = agentID
	return nil
}

func (s *fakeThreadStore) NotifyClosed(ctx context.Context, threadID string) error {
	s.closed[threadID] = true
	return nil
}

func newCoordinatorFixture(t *testing.T) (*ThreadCoordinator, *fixture, *fakeThreadStore) {
	t.Helper()
	f := newFixture(t, 0)
	store := newFakeThreadStore()
	c := NewThreadCoordinator(f.engine, store, f.tracker, zap.NewNop())
	return c, f, store
}

func TestHandleThreadCreatedWithPresetAgent(t *testing.T) {
	c, _, store := newCoordinatorFixture(t)
	ctx := context.Background()
	store.priorities["thread-1"] = domain.PriorityUrgent

	agent := "agent-1"
	a, err := c.HandleThreadCreated(ctx, "thread-1", &agent, nil)
	if err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if a.AgentID != "agent-1" {
		t.Errorf("agent = %s, want agent-1", a.AgentID)
	}
	if a.Priority != domain.PriorityUrgent {
		t.Errorf("priority = %s, want thread's URGENT", a.Priority)
	}
	if a.AssignmentType != domain.AssignManual {
		t.Errorf("assignment type = %s, want MANUAL", a.AssignmentType)
	}
	if store.assigned["thread-1"] != "agent-1" {
		t.Error("thread store not notified of assignment")
	}
}

func TestHandleThreadCreatedPicksLeastLoaded(t *testing.T) {
	c, f, _ := newCoordinatorFixture(t)
	ctx := context.Background()

	// Load agent-busy with existing work so agent-idle wins.
	for _, entity := range []string{"warm-1", "warm-2"} {
		if _, err := f.engine.Create(ctx, CreateInput{AgentID: "agent-busy", EntityType: domain.EntityThread, EntityID: entity}); err != nil {
			t.Fatalf("warmup create: %v", err)
		}
	}

	a, err := c.HandleThreadCreated(ctx, "thread-1", nil, []string{"agent-busy", "agent-idle"})
	if err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if a.AgentID != "agent-idle" {
		t.Errorf("agent = %s, want agent-idle", a.AgentID)
	}
	if a.AssignmentType != domain.AssignWorkloadBased {
		t.Errorf("assignment type = %s, want WORKLOAD_BASED", a.AssignmentType)
	}
}

func TestHandleThreadCreatedNoCandidates(t *testing.T) {
	c, _, _ := newCoordinatorFixture(t)

	_, err := c.HandleThreadCreated(context.Background(), "thread-1", nil, nil)
	if err == nil {
		t.Fatal("expected error with no candidates")
	}
}

func TestHandleThreadCreatedReassignsExisting(t *testing.T) {
	c, f, _ := newCoordinatorFixture(t)
	ctx := context.Background()

	first := "agent-1"
	a, err := c.HandleThreadCreated(ctx, "thread-1", &first, nil)
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}

	second := "agent-2"
	moved, err := c.HandleThreadCreated(ctx, "thread-1", &second, nil)
	if err != nil {
		t.Fatalf("reassignment: %v", err)
	}
	if moved.ID != a.ID {
		t.Error("reassignment created a second record instead of transferring")
	}
	if moved.AgentID != "agent-2" {
		t.Errorf("agent = %s, want agent-2", moved.AgentID)
	}
	if f.tracker.Active("agent-1") != 0 || f.tracker.Active("agent-2") != 1 {
		t.Errorf("counters = (%d, %d), want (0, 1)",
			f.tracker.Active("agent-1"), f.tracker.Active("agent-2"))
	}
}

func TestHandleThreadCreatedSameOwnerIsNoop(t *testing.T) {
	c, _, _ := newCoordinatorFixture(t)
	ctx := context.Background()

	agent := "agent-1"
	a, err := c.HandleThreadCreated(ctx, "thread-1", &agent, nil)
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	again, err := c.HandleThreadCreated(ctx, "thread-1", &agent, nil)
	if err != nil {
		t.Fatalf("repeat assignment: %v", err)
	}
	if again.ID != a.ID || again.AgentID != "agent-1" {
		t.Errorf("repeat changed the assignment: %+v", again)
	}
}

func TestHandleThreadCreatedNotifyFailureIsNonFatal(t *testing.T) {
	c, _, store := newCoordinatorFixture(t)
	store.notifyErr = errors.New("thread service down")

	agent := "agent-1"
	if _, err := c.HandleThreadCreated(context.Background(), "thread-1", &agent, nil); err != nil {
		t.Fatalf("notification failure should not fail the assignment: %v", err)
	}
}

func TestHandleThreadClosedCompletesAssignment(t *testing.T) {
	c, f, store := newCoordinatorFixture(t)
	ctx := context.Background()

	agent := "agent-1"
	a, err := c.HandleThreadCreated(ctx, "thread-1", &agent, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := c.HandleThreadClosed(ctx, "thread-1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	closed, err := f.engine.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if closed.Status() != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", closed.Status())
	}
	if !store.closed["thread-1"] {
		t.Error("thread store not notified of close")
	}
}

func TestHandleThreadClosedWithoutAssignment(t *testing.T) {
	c, _, _ := newCoordinatorFixture(t)

	if err := c.HandleThreadClosed(context.Background(), "thread-unknown"); err != nil {
		t.Fatalf("close of unassigned thread should be discarded: %v", err)
	}
}

func TestHandleAgentReply(t *testing.T) {
	c, f, _ := newCoordinatorFixture(t)
	ctx := context.Background()

	agent := "agent-1"
	a, err := c.HandleThreadCreated(ctx, "thread-1", &agent, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	asked := f.clk.Now()
	if err := c.HandleAgentReply(ctx, "thread-1", asked, asked.Add(5*time.Minute)); err != nil {
		t.Fatalf("reply: %v", err)
	}
	reloaded, _ := f.engine.Get(ctx, a.ID)
	if reloaded.FirstRespondedAt == nil || reloaded.ResponseCount != 1 {
		t.Errorf("reply not recorded: %+v", reloaded)
	}

	if err := c.HandleAgentReply(ctx, "thread-unknown", asked, asked.Add(time.Minute)); err != nil {
		t.Errorf("reply to unassigned thread should be discarded: %v", err)
	}
}
