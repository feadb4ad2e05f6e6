package sla

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

// Durations holds the two obligation windows for a priority.
type Durations struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

// Policy maps priorities to obligation windows.
type Policy struct {
	table map[domain.Priority]Durations
}

// DefaultPolicy returns the built-in priority table.
func DefaultPolicy() Policy {
	return Policy{table: map[domain.Priority]Durations{
		domain.PriorityUrgent: {FirstResponse: 15 * time.Minute, Resolution: 4 * time.Hour},
		domain.PriorityHigh:   {FirstResponse: 1 * time.Hour, Resolution: 8 * time.Hour},
		domain.PriorityMedium: {FirstResponse: 4 * time.Hour, Resolution: 24 * time.Hour},
		domain.PriorityLow:    {FirstResponse: 24 * time.Hour, Resolution: 72 * time.Hour},
	}}
}

// Durations returns the windows for p, falling back to medium for
// unknown values.
func (p Policy) Durations(priority domain.Priority) Durations {
	if d, ok := p.table[priority]; ok {
		return d
	}
	return p.table[domain.PriorityMedium]
}

type policyFile struct {
	Priorities map[string]struct {
		FirstResponse string `yaml:"first_response"`
		Resolution    string `yaml:"resolution"`
	} `yaml:"priorities"`
}

// LoadPolicyFile reads a YAML policy overriding the default table for
// any priorities it names. An empty path returns the default policy.
func LoadPolicyFile(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read sla policy: %w", err)
	}
	var parsed policyFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Policy{}, fmt.Errorf("parse sla policy: %w", err)
	}

	for name, entry := range parsed.Priorities {
		priority := domain.Priority(strings.ToUpper(name))
		if !domain.ValidPriority(priority) {
			return Policy{}, fmt.Errorf("unknown priority %q in sla policy", name)
		}
		first, err := time.ParseDuration(entry.FirstResponse)
		if err != nil {
			return Policy{}, fmt.Errorf("priority %s first_response: %w", name, err)
		}
		resolution, err := time.ParseDuration(entry.Resolution)
		if err != nil {
			return Policy{}, fmt.Errorf("priority %s resolution: %w", name, err)
		}
		if first <= 0 || resolution <= 0 || first > resolution {
			return Policy{}, fmt.Errorf("priority %s: windows must be positive and first_response <= resolution", name)
		}
		policy.table[priority] = Durations{FirstResponse: first, Resolution: resolution}
	}
	return policy, nil
}
