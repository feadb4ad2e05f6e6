// Package clock abstracts the source of "now" so every time-based rule
// in the engine can be exercised deterministically in tests.
package clock

import "time"

// Clock supplies current time. It is the only source of "now" consumed
// by SLA computation, classification and lifecycle timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// System returns the wall clock in UTC.
func System() Clock { return systemClock{} }

// Fixed is a manually advanced clock for tests.
type Fixed struct {
	Current time.Time
}

// NewFixed returns a clock pinned to t.
func NewFixed(t time.Time) *Fixed { return &Fixed{Current: t} }

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time { return f.Current }

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.Current = f.Current.Add(d) }

// Set pins the clock to t.
func (f *Fixed) Set(t time.Time) { f.Current = t }
