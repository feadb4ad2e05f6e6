package observability

import (
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for engine operations and
// HTTP requests.
type Metrics struct {
	mu             sync.Mutex
	operationCount map[string]int64
	outcomeCount   map[string]int64
	requestCount   map[string]int64
	sweepRuns      int64
	sweepEscalated int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		operationCount: make(map[string]int64),
		outcomeCount:   make(map[string]int64),
		requestCount:   make(map[string]int64),
	}
}

// RecordOperation counts an engine operation and its outcome code.
// Code is empty for successful calls.
func (m *Metrics) RecordOperation(op, code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operationCount[op]++
	if code != "" {
		m.outcomeCount[op+"|"+code]++
	}
}

// RecordRequest counts an HTTP request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[path+"|"+method]++
}

// RecordSweep counts an overdue sweep pass and how many assignments it
// escalated.
func (m *Metrics) RecordSweep(escalated int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepRuns++
	m.sweepEscalated += int64(escalated)
}

// OperationCount returns the recorded call count for op.
func (m *Metrics) OperationCount(op string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operationCount[op]
}

// OutcomeCount returns the recorded count for an op/code pair.
func (m *Metrics) OutcomeCount(op, code string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomeCount[op+"|"+code]
}
