package engine

import (
	"github.com/boosty-org/assignment-engine/internal/domain"
	apperrors "github.com/boosty-org/assignment-engine/pkg/util"
)

// EscalationChain raises an assignment's escalation level. Levels are
// monotonically non-decreasing; retrograde or same-level requests are
// rejected so repeated escalations stay idempotent-safe.
type EscalationChain struct {
	maxAutoLevel int
}

// NewEscalationChain builds the chain. maxAutoLevel caps levels reached
// by the automatic sweep; manual escalation is not capped.
func NewEscalationChain(maxAutoLevel int) *EscalationChain {
	return &EscalationChain{maxAutoLevel: maxAutoLevel}
}

// MaxAutoLevel returns the ceiling applied to sweep-driven escalation.
func (c *EscalationChain) MaxAutoLevel() int { return c.maxAutoLevel }

// Raise computes and applies the new escalation level. A nil requested
// level means "one step up".
func (c *EscalationChain) Raise(a *domain.Assignment, requested *int) (oldLevel, newLevel int, err error) {
	if a.IsTerminal() {
		return 0, 0, apperrors.NewAssignmentClosed(a.ID)
	}

	oldLevel = a.EscalationLevel
	newLevel = oldLevel + 1
	if requested != nil {
		if *requested <= oldLevel {
			return 0, 0, apperrors.NewValidationError("escalation level must exceed current level", map[string]any{
				"assignment_id": a.ID,
				"current_level": oldLevel,
				"requested":     *requested,
			})
		}
		newLevel = *requested
	}

	a.EscalationLevel = newLevel
	a.LastEvent = domain.EventEscalated
	return oldLevel, newLevel, nil
}
