// Package worker runs the periodic SLA sweep: find overdue assignments
// and push them through the escalation chain.
package worker

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/config"
	"github.com/boosty-org/assignment-engine/internal/engine"
	"github.com/boosty-org/assignment-engine/internal/observability"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// SLASweeper schedules overdue sweeps on a standard 5-field cron
// expression (minute hour day-of-month month day-of-week).
type SLASweeper struct {
	engine  *engine.Engine
	logger  *zap.Logger
	metrics *observability.Metrics
	spec    string
	cron    *cron.Cron
}

// NewSLASweeper builds the sweeper.
func NewSLASweeper(eng *engine.Engine, cfg config.SweepConfig, logger *zap.Logger, metrics *observability.Metrics) *SLASweeper {
	return &SLASweeper{
		engine:  eng,
		logger:  logger,
		metrics: metrics,
		spec:    cfg.CronSpec,
	}
}

// Start schedules periodic sweeps. Invalid cron specs fail fast.
func (s *SLASweeper) Start() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(s.spec); err != nil {
		return err
	}

	s.cron = cron.New(cron.WithParser(parser))
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error("sla sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sla sweep scheduled", zap.String("cron", s.spec))
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish.
func (s *SLASweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce performs a single sweep pass and returns how many assignments
// it escalated. The overdue read may be slightly stale; Escalate
// re-checks the record under its lock, so sweep hits on since-closed
// assignments are detected and discarded rather than applied.
func (s *SLASweeper) RunOnce(ctx context.Context) (escalated int, err error) {
	overdue, err := s.engine.Overdue(ctx)
	if err != nil {
		return 0, err
	}

	maxLevel := s.engine.EscalationChain().MaxAutoLevel()
	for i := range overdue {
		a := &overdue[i]
		if maxLevel > 0 && a.EscalationLevel >= maxLevel {
			continue
		}
		if _, err := s.engine.Escalate(ctx, a.ID, engine.EscalateInput{Reason: "sla_overdue"}); err != nil {
			var domainErr *apperrors.DomainError
			if errors.As(err, &domainErr) {
				switch domainErr.Code {
				case apperrors.CodeAssignmentClosed, apperrors.CodeAssignmentNotFound:
					continue
				}
			}
			s.logger.Error("sweep escalation failed",
				zap.String("assignment_id", a.ID),
				zap.Error(err))
			continue
		}
		escalated++
	}

	s.metrics.RecordSweep(escalated)
	if escalated > 0 {
		s.logger.Info("sla sweep escalated assignments", zap.Int("count", escalated))
	}
	return escalated, nil
}
