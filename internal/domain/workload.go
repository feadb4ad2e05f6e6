package domain

import "time"

// WorkloadSnapshot is the derived per-agent view answered by the tracker.
// It is recomputed on every assignment transition touching the agent and
// may be cached, but the counter itself is authoritative.
type WorkloadSnapshot struct {
	AgentID             string    `json:"agent_id"`
	ActiveAssignments   int       `json:"active_assignments"`
	MaxCapacity         int       `json:"max_capacity"`
	CapacityUtilization float64   `json:"capacity_utilization"`
	WorkloadScore       float64   `json:"workload_score"`
	ComputedAt          time.Time `json:"computed_at"`
}
