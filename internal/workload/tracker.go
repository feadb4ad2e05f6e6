// Package workload maintains per-agent active assignment counters and the
// derived utilization/score view. All counter changes flow through the
// tracker so the conservation invariant (counter == open assignments
// owned by the agent) stays enforceable in one place.
package workload

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boosty-org/assignment-engine/internal/clock"
	"github.com/boosty-org/assignment-engine/internal/config"
	"github.com/boosty-org/assignment-engine/internal/domain"
)

// completion half-life relative to the reporting window.
const decayDivisor = 4

// SnapshotCache mirrors the latest per-agent snapshot to an external
// cache. Implementations must be safe for concurrent use; failures are
// logged and ignored, the in-memory counters stay authoritative.
type SnapshotCache interface {
	Store(ctx context.Context, snap domain.WorkloadSnapshot) error
}

type agentState struct {
	active           int
	completionRate   float64
	lastCompletionAt time.Time
}

// Tracker answers "can agent X take one more unit of work" and keeps the
// non-negative active-assignment counter per agent.
type Tracker struct {
	mu     sync.Mutex
	agents map[string]*agentState

	maxCapacity int
	hardCap     int
	clk         clock.Clock
	cache       SnapshotCache
	logger      *zap.Logger
}

// NewTracker creates a tracker with the given capacity policy.
func NewTracker(cfg config.WorkloadConfig, clk clock.Clock, cache SnapshotCache, logger *zap.Logger) *Tracker {
	return &Tracker{
		agents:      make(map[string]*agentState),
		maxCapacity: cfg.MaxCapacity,
		hardCap:     cfg.HardCap,
		clk:         clk,
		cache:       cache,
		logger:      logger,
	}
}

// Rebuild replaces all counters with counts loaded from storage. Called
// once at startup before the engine starts serving.
func (t *Tracker) Rebuild(ctx context.Context, counts map[string]int) {
	t.mu.Lock()
	for agentID, count := range counts {
		if count < 0 {
			count = 0
		}
		t.agents[agentID] = &agentState{active: count}
	}
	t.mu.Unlock()

	for agentID := range counts {
		t.publishSnapshot(ctx, agentID)
	}
}

// TryIncrement reserves one unit of work for the agent, honoring the
// hard cap. Check and reservation happen under one lock, so concurrent
// callers cannot both slip past the cap; callers that fail a later step
// release the reservation with Decrement. Returns the active count the
// caller observed.
func (t *Tracker) TryIncrement(ctx context.Context, agentID string) (ok bool, active int) {
	t.mu.Lock()
	st := t.state(agentID)
	if t.hardCap > 0 && st.active >= t.hardCap {
		active = st.active
		t.mu.Unlock()
		return false, active
	}
	st.active++
	active = st.active
	t.mu.Unlock()
	t.publishSnapshot(ctx, agentID)
	return true, active
}

// TryMove transfers one unit of work between two agents, honoring the
// hard cap on the receiving side. Both counters change or neither does;
// callers that fail a later step undo with the unconditional Move.
func (t *Tracker) TryMove(ctx context.Context, fromAgentID, toAgentID string) (ok bool, active int) {
	t.mu.Lock()
	to := t.state(toAgentID)
	if t.hardCap > 0 && to.active >= t.hardCap {
		active = to.active
		t.mu.Unlock()
		return false, active
	}
	from := t.state(fromAgentID)
	if from.active > 0 {
		from.active--
	}
	to.active++
	active = to.active
	t.mu.Unlock()
	t.publishSnapshot(ctx, fromAgentID)
	t.publishSnapshot(ctx, toAgentID)
	return true, active
}

// Decrement removes one active assignment from the agent's counter,
// flooring at zero. Decrementing an agent at zero is a no-op, not an
// error; this absorbs double-completion bugs instead of corrupting
// counters. When completed is true the recent-completion rate feeding
// the workload score is also updated.
func (t *Tracker) Decrement(ctx context.Context, agentID string, completed bool) {
	t.mu.Lock()
	st := t.state(agentID)
	if st.active > 0 {
		st.active--
	}
	if completed {
		now := t.clk.Now()
		st.completionRate = t.decayedRate(st, now, defaultWindow) + 1
		st.lastCompletionAt = now
	}
	t.mu.Unlock()
	t.publishSnapshot(ctx, agentID)
}

// Move transfers one unit of work between two agents as a single locked
// update: both counters change or neither does.
func (t *Tracker) Move(ctx context.Context, fromAgentID, toAgentID string) {
	t.mu.Lock()
	from := t.state(fromAgentID)
	if from.active > 0 {
		from.active--
	}
	t.state(toAgentID).active++
	t.mu.Unlock()
	t.publishSnapshot(ctx, fromAgentID)
	t.publishSnapshot(ctx, toAgentID)
}

// Active returns the agent's current active assignment count.
func (t *Tracker) Active(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state(agentID).active
}

// CapacityUtilization returns activeAssignments / maxCapacity * 100.
// Values over 100 indicate overload and are reported as-is, never
// clamped.
func (t *Tracker) CapacityUtilization(agentID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.utilizationLocked(t.state(agentID))
}

// WorkloadScore blends active count with the decayed recent-completion
// rate, bounded to [0,100] and monotonic in active count.
func (t *Tracker) WorkloadScore(agentID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scoreLocked(t.state(agentID), t.clk.Now(), defaultWindow)
}

// HardCap returns the configured hard cap, 0 when disabled.
func (t *Tracker) HardCap() int { return t.hardCap }

// Snapshot returns the agent's derived workload view. The window bounds
// how far back completions still influence the score.
func (t *Tracker) Snapshot(agentID string, window time.Duration) domain.WorkloadSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(agentID, window)
}

// PickLeastLoaded returns the candidate with the lowest workload score,
// breaking ties by active count and then lexicographically for
// determinism. Empty candidate lists return "".
func (t *Tracker) PickLeastLoaded(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	sorted := append([]string(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		si, sj := t.state(sorted[i]), t.state(sorted[j])
		scoreI, scoreJ := t.scoreLocked(si, now, defaultWindow), t.scoreLocked(sj, now, defaultWindow)
		if scoreI != scoreJ {
			return scoreI < scoreJ
		}
		if si.active != sj.active {
			return si.active < sj.active
		}
		return sorted[i] < sorted[j]
	})
	return sorted[0]
}

func (t *Tracker) state(agentID string) *agentState {
	st, ok := t.agents[agentID]
	if !ok {
		st = &agentState{}
		t.agents[agentID] = st
	}
	return st
}

func (t *Tracker) utilizationLocked(st *agentState) float64 {
	return float64(st.active) / float64(t.maxCapacity) * 100
}

func (t *Tracker) scoreLocked(st *agentState, now time.Time, window time.Duration) float64 {
	util := t.utilizationLocked(st)
	if util > 100 {
		util = 100
	}
	recency := t.decayedRate(st, now, window) * 20
	if recency > 100 {
		recency = 100
	}
	score := 0.7*util + 0.3*recency
	if score > 100 {
		score = 100
	}
	return score
}

// decayedRate halves the completion rate every window/decayDivisor and
// drops contributions older than the window entirely.
func (t *Tracker) decayedRate(st *agentState, now time.Time, window time.Duration) float64 {
	if st.completionRate == 0 || st.lastCompletionAt.IsZero() {
		return 0
	}
	halfLife := window / decayDivisor
	elapsed := now.Sub(st.lastCompletionAt)
	if elapsed <= 0 {
		return st.completionRate
	}
	if elapsed > window {
		return 0
	}
	return st.completionRate * math.Pow(0.5, float64(elapsed)/float64(halfLife))
}

const defaultWindow = 24 * time.Hour

func (t *Tracker) snapshotLocked(agentID string, window time.Duration) domain.WorkloadSnapshot {
	if window <= 0 {
		window = defaultWindow
	}
	st := t.state(agentID)
	now := t.clk.Now()
	return domain.WorkloadSnapshot{
		AgentID:             agentID,
		ActiveAssignments:   st.active,
		MaxCapacity:         t.maxCapacity,
		CapacityUtilization: t.utilizationLocked(st),
		WorkloadScore:       t.scoreLocked(st, now, window),
		ComputedAt:          now,
	}
}

func (t *Tracker) publishSnapshot(ctx context.Context, agentID string) {
	if t.cache == nil {
		return
	}
	t.mu.Lock()
	snap := t.snapshotLocked(agentID, defaultWindow)
	t.mu.Unlock()
	if err := t.cache.Store(ctx, snap); err != nil && t.logger != nil {
		t.logger.Warn("workload snapshot cache write failed",
			zap.String("agent_id", agentID), zap.Error(err))
	}
}
