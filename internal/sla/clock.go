// Package sla computes first-response and resolution deadlines from the
// priority policy table and classifies assignments against them.
package sla

import (
	"context"
	"time"

	"github.com/boosty-org/assignment-engine/internal/domain"
	"github.com/boosty-org/assignment-engine/internal/repository"
)

// Health classifies one obligation window.
type Health string

const (
	HealthOnTrack Health = "ON_TRACK"
	HealthAtRisk  Health = "AT_RISK"
	HealthOverdue Health = "OVERDUE"
)

// Classification reports both obligation windows separately plus the
// worst of the two. A first-response breach makes the assignment overdue
// even while the resolution window is still open.
type Classification struct {
	Overall       Health
	FirstResponse Health
	Resolution    Health
}

// Clock computes and evaluates SLA deadlines. Deadlines are computed
// once at creation and preserved on transfer; they never silently drift.
type Clock struct {
	policy         Policy
	atRiskFraction float64
	repo           repository.AssignmentRepository
}

// NewClock builds an SLA clock. repo may be nil when only deadline
// computation and classification are needed.
func NewClock(policy Policy, atRiskFraction float64, repo repository.AssignmentRepository) *Clock {
	if atRiskFraction <= 0 || atRiskFraction >= 1 {
		atRiskFraction = 0.20
	}
	return &Clock{policy: policy, atRiskFraction: atRiskFraction, repo: repo}
}

// ComputeDeadlines derives both deadlines from the priority table.
// entityType is part of the policy surface but the default table does
// not differentiate by it.
func (c *Clock) ComputeDeadlines(priority domain.Priority, entityType domain.EntityType, createdAt time.Time) (firstResponse, resolution time.Time) {
	d := c.policy.Durations(priority)
	return createdAt.Add(d.FirstResponse), createdAt.Add(d.Resolution)
}

// Classify evaluates an assignment at the given instant. Terminal
// assignments are always on track: closed work carries no pending
// obligation.
func (c *Clock) Classify(a *domain.Assignment, now time.Time) Classification {
	if a.IsTerminal() {
		return Classification{Overall: HealthOnTrack, FirstResponse: HealthOnTrack, Resolution: HealthOnTrack}
	}

	first := HealthOnTrack
	if a.FirstRespondedAt == nil {
		first = c.windowHealth(a.AssignedAt, a.FirstResponseDeadline, now)
	}
	resolution := c.windowHealth(a.AssignedAt, a.ResolutionDeadline, now)

	return Classification{
		Overall:       worst(first, resolution),
		FirstResponse: first,
		Resolution:    resolution,
	}
}

// IsOverdue reports whether Classify would return an overdue overall
// health. FindOverdue filters with this exact predicate so the two can
// never drift apart.
func (c *Clock) IsOverdue(a *domain.Assignment, now time.Time) bool {
	return c.Classify(a, now).Overall == HealthOverdue
}

// FindOverdue returns all open assignments overdue at the given instant.
func (c *Clock) FindOverdue(ctx context.Context, now time.Time) ([]domain.Assignment, error) {
	candidates, err := c.repo.ListOverdueCandidates(ctx, now)
	if err != nil {
		return nil, err
	}
	overdue := make([]domain.Assignment, 0, len(candidates))
	for i := range candidates {
		if c.IsOverdue(&candidates[i], now) {
			overdue = append(overdue, candidates[i])
		}
	}
	return overdue, nil
}

func (c *Clock) windowHealth(start, deadline time.Time, now time.Time) Health {
	if now.After(deadline) {
		return HealthOverdue
	}
	buffer := time.Duration(c.atRiskFraction * float64(deadline.Sub(start)))
	if !now.Before(deadline.Add(-buffer)) {
		return HealthAtRisk
	}
	return HealthOnTrack
}

func worst(a, b Health) Health {
	rank := map[Health]int{HealthOnTrack: 0, HealthAtRisk: 1, HealthOverdue: 2}
	if rank[a] >= rank[b] {
		return a
	}
	return b
}
