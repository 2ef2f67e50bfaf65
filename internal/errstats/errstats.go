// Package errstats tracks failure statistics across tools: monotonic
// per-kind and per-tool counters plus a bounded ring of recent events
// for drill-down. Totals never shrink except on an explicit Reset.
package errstats

import (
	"sync"
	"time"
)

// Kind classifies an invocation failure.
type Kind string

const (
	KindSpawnFailure    Kind = "spawn_failure"
	KindTimeout         Kind = "timeout"
	KindNonzeroExit     Kind = "nonzero_exit"
	KindMalformedOutput Kind = "malformed_output"
	KindCancelled       Kind = "cancelled"
	KindResourceLimit   Kind = "resource_limit"
)

// Event is one recorded failure, retained only in the recent ring.
type Event struct {
	Tool      string    `json:"tool"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is the aggregate error telemetry view.
type Stats struct {
	Total       int64            `json:"total_errors"`
	ByKind      map[Kind]int64   `json:"error_counts_by_type"`
	ByTool      map[string]int64 `json:"error_counts_by_tool"`
	RecentCount int              `json:"recent_errors_count"`
	Recent      []Event          `json:"recent_errors"`
}

// Aggregator accumulates error counts. Safe for concurrent use; every
// mutation is a short critical section with no blocking inside.
type Aggregator struct {
	mu        sync.RWMutex
	total     int64
	byKind    map[Kind]int64
	byTool    map[string]int64
	successes map[string]int64
	runs      map[string]int64

	ring     []Event
	ringNext int
	ringLen  int
}

// DefaultRecentEvents is the ring capacity when none is given.
const DefaultRecentEvents = 100

// New creates an aggregator retaining up to recentEvents individual
// failures for the drill-down view.
func New(recentEvents int) *Aggregator {
	if recentEvents <= 0 {
		recentEvents = DefaultRecentEvents
	}
	return &Aggregator{
		byKind:    make(map[Kind]int64),
		byTool:    make(map[string]int64),
		successes: make(map[string]int64),
		runs:      make(map[string]int64),
		ring:      make([]Event, recentEvents),
	}
}

// Record counts one failure of kind for tool.
func (a *Aggregator) Record(tool string, kind Kind, message string) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byKind[kind]++
	a.byTool[tool]++
	a.runs[tool]++

	a.ring[a.ringNext] = Event{Tool: tool, Kind: kind, Message: message, Timestamp: now}
	a.ringNext = (a.ringNext + 1) % len(a.ring)
	if a.ringLen < len(a.ring) {
		a.ringLen++
	}
}

// RecordSuccess counts one completed run for tool. Successes feed the
// tool selector's success-rate term and are not error events.
func (a *Aggregator) RecordSuccess(tool string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.successes[tool]++
	a.runs[tool]++
}

// SuccessRate returns tool's completed/total ratio, or 1.0 when the tool
// has never run (unknown tools are not penalized up front).
func (a *Aggregator) SuccessRate(tool string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	runs := a.runs[tool]
	if runs == 0 {
		return 1.0
	}
	return float64(a.successes[tool]) / float64(runs)
}

// Stats returns a snapshot. Recent events are ordered newest first.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{
		Total:       a.total,
		ByKind:      make(map[Kind]int64, len(a.byKind)),
		ByTool:      make(map[string]int64, len(a.byTool)),
		RecentCount: a.ringLen,
		Recent:      make([]Event, 0, a.ringLen),
	}
	for k, v := range a.byKind {
		s.ByKind[k] = v
	}
	for k, v := range a.byTool {
		s.ByTool[k] = v
	}

	for i := 0; i < a.ringLen; i++ {
		idx := (a.ringNext - 1 - i + len(a.ring)) % len(a.ring)
		s.Recent = append(s.Recent, a.ring[idx])
	}
	return s
}

// Reset zeroes all counters and drops recent events.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = 0
	a.byKind = make(map[Kind]int64)
	a.byTool = make(map[string]int64)
	a.successes = make(map[string]int64)
	a.runs = make(map[string]int64)
	a.ringNext = 0
	a.ringLen = 0
}
