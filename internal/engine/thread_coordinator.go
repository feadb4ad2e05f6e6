package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/domain"
	"github.com/boosty-org/assignment-engine/internal/workload"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// ThreadStore is the external owner of conversation threads. The engine
// reads thread priority and emits assignment linkage back; it never owns
// thread content.
type ThreadStore interface {
	GetThreadPriority(ctx context.Context, threadID string) (domain.Priority, error)
	NotifyAssigned(ctx context.Context, threadID, agentID string) error
	NotifyClosed(ctx context.Context, threadID string) error
}

// ThreadCoordinator adapts thread lifecycle signals into assignment
// operations. A new thread carrying an assigned agent creates an
// assignment; a thread whose assignment already exists is transferred
// rather than conflicting, since that is the legitimate re-assign flow
// and not the ASSIGNMENT_EXISTS misuse case.
type ThreadCoordinator struct {
	engine  *Engine
	threads ThreadStore
	tracker *workload.Tracker
	logger  *zap.Logger
}

// NewThreadCoordinator builds the coordinator.
func NewThreadCoordinator(eng *Engine, threads ThreadStore, tracker *workload.Tracker, logger *zap.Logger) *ThreadCoordinator {
	return &ThreadCoordinator{engine: eng, threads: threads, tracker: tracker, logger: logger}
}

// HandleThreadCreated routes a new or re-assigned thread to an agent.
// With no preset agent the least loaded candidate is picked. Returns the
// resulting assignment.
func (c *ThreadCoordinator) HandleThreadCreated(ctx context.Context, threadID string, assignedAgent *string, candidates []string) (*domain.Assignment, error) {
	priority, err := c.threads.GetThreadPriority(ctx, threadID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	agentID := ""
	assignmentType := domain.AssignManual
	if assignedAgent != nil && *assignedAgent != "" {
		agentID = *assignedAgent
	} else {
		agentID = c.tracker.PickLeastLoaded(candidates)
		assignmentType = domain.AssignWorkloadBased
	}
	if agentID == "" {
		return nil, apperrors.NewValidationError("no agent available for thread", map[string]any{"thread_id": threadID})
	}

	a, err := c.engine.Create(ctx, CreateInput{
		AgentID:        agentID,
		EntityType:     domain.EntityThread,
		EntityID:       threadID,
		Priority:       priority,
		AssignmentType: assignmentType,
		Reason:         "thread_created",
	})
	if err != nil {
		var domainErr *apperrors.DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeAssignmentExists {
			return nil, err
		}
		a, err = c.reassignExisting(ctx, threadID, agentID)
		if err != nil {
			return nil, err
		}
	}

	if err := c.threads.NotifyAssigned(ctx, threadID, a.AgentID); err != nil {
		c.logger.Warn("thread assignment notification failed",
			zap.String("thread_id", threadID), zap.Error(err))
	}
	return a, nil
}

// reassignExisting transfers the thread's open assignment to the
// requested agent. A transfer to the current owner is a no-op.
func (c *ThreadCoordinator) reassignExisting(ctx context.Context, threadID, agentID string) (*domain.Assignment, error) {
	existing, err := c.engine.OpenForEntity(ctx, domain.EntityThread, threadID)
	if err != nil {
		return nil, err
	}
	if existing.AgentID == agentID {
		return existing, nil
	}
	return c.engine.Transfer(ctx, existing.ID, agentID, "thread_reassigned", nil)
}

// HandleThreadClosed completes the thread's assignment, if one is open.
func (c *ThreadCoordinator) HandleThreadClosed(ctx context.Context, threadID string) error {
	existing, err := c.engine.OpenForEntity(ctx, domain.EntityThread, threadID)
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeAssignmentNotFound {
			return nil
		}
		return err
	}

	if _, err := c.engine.Complete(ctx, existing.ID, "closed", nil, nil); err != nil {
		var domainErr *apperrors.DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != apperrors.CodeAssignmentClosed {
			return err
		}
	}

	if err := c.threads.NotifyClosed(ctx, threadID); err != nil {
		c.logger.Warn("thread close notification failed",
			zap.String("thread_id", threadID), zap.Error(err))
	}
	return nil
}

// HandleAgentReply feeds reply latency into the assignment's response
// statistics. Replies to threads without an open assignment are
// discarded.
func (c *ThreadCoordinator) HandleAgentReply(ctx context.Context, threadID string, customerMessageAt, repliedAt time.Time) error {
	existing, err := c.engine.OpenForEntity(ctx, domain.EntityThread, threadID)
	if err != nil {
		var domainErr *apperrors.DomainError
		if errors.As(err, &domainErr) && domainErr.Code == apperrors.CodeAssignmentNotFound {
			return nil
		}
		return err
	}
	return c.engine.RecordResponse(ctx, existing.ID, customerMessageAt, repliedAt)
}
