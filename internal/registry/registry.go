// Package registry is the process-wide table of active and recently
// completed invocations. It enforces the global concurrency limit with
// per-category FIFO admission so one noisy tool category cannot starve
// the others, and retains terminal records for a bounded history window.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

var (
	// ErrQueueFull is returned when a category's admission queue is at
	// capacity. Rejection is explicit, never a silent drop.
	ErrQueueFull = errors.New("admission queue full")

	// ErrNotFound is returned for lookups of unknown records.
	ErrNotFound = errors.New("process not found")
)

// Snapshot is the aggregate dashboard view.
type Snapshot struct {
	Timestamp      time.Time    `json:"timestamp"`
	TotalProcesses int          `json:"total_processes"`
	Running        int          `json:"running"`
	Queued         int          `json:"queued"`
	Processes      []RecordView `json:"processes"`
	SystemLoad     float64      `json:"system_load"`
}

type waiter struct {
	ready     chan struct{}
	abandoned bool
}

// Config holds registry construction parameters.
type Config struct {
	MaxConcurrent int
	MaxQueued     int // per category
	Retention     time.Duration
	Logger        *slog.Logger
}

// Registry tracks all invocations and rations the slot pool.
type Registry struct {
	mu     sync.Mutex
	logger *slog.Logger

	maxConcurrent int
	maxQueued     int
	retention     time.Duration

	records map[string]*ProcessRecord
	running int

	queues   map[tools.Category][]*waiter
	catOrder []tools.Category // round-robin wake order
	rrNext   int
}

// New creates a registry.
func New(cfg Config) *Registry {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	maxQueued := cfg.MaxQueued
	if maxQueued <= 0 {
		maxQueued = 32
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:        logger.WithGroup("registry"),
		maxConcurrent: maxConcurrent,
		maxQueued:     maxQueued,
		retention:     retention,
		records:       make(map[string]*ProcessRecord),
		queues:        make(map[tools.Category][]*waiter),
	}
}

// Register adds a new queued record to the table.
func (r *Registry) Register(rec *ProcessRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.Status = StatusQueued
	rec.CreatedAt = time.Now()
	rec.ProgressMode = ProgressUnknown
	r.records[rec.ID] = rec

	r.logger.Debug("Registered invocation",
		"id", rec.ID, "tool", rec.Tool, "category", rec.Category)
}

// Acquire blocks until rec's category is granted a concurrency slot, the
// queue rejects, or ctx is done. The caller must pair a successful
// Acquire with exactly one Release on every exit path.
func (r *Registry) Acquire(ctx context.Context, rec *ProcessRecord) error {
	r.mu.Lock()

	cat := rec.Category
	if r.running < r.maxConcurrent && len(r.queues[cat]) == 0 {
		r.running++
		r.mu.Unlock()
		return nil
	}

	if len(r.queues[cat]) >= r.maxQueued {
		r.mu.Unlock()
		return fmt.Errorf("category %s: %w", cat, ErrQueueFull)
	}

	w := &waiter{ready: make(chan struct{})}
	if !r.knownCategory(cat) {
		r.catOrder = append(r.catOrder, cat)
	}
	r.queues[cat] = append(r.queues[cat], w)
	queued := len(r.queues[cat])
	r.mu.Unlock()

	r.logger.Debug("Invocation queued for admission",
		"id", rec.ID, "category", cat, "depth", queued)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		select {
		case <-w.ready:
			// Granted concurrently with cancellation; hand the slot on.
			r.releaseLocked()
		default:
			w.abandoned = true
		}
		r.mu.Unlock()
		return ctx.Err()
	}
}

func (r *Registry) knownCategory(cat tools.Category) bool {
	for _, c := range r.catOrder {
		if c == cat {
			return true
		}
	}
	return false
}

// Release frees a concurrency slot and wakes the next queued waiter,
// round-robin across categories.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked()
}

func (r *Registry) releaseLocked() {
	r.running--
	r.wakeLocked()
}

// wakeLocked grants free slots to queued waiters, serving categories in
// round-robin order so each gets a fair share of the pool.
func (r *Registry) wakeLocked() {
	for r.running < r.maxConcurrent {
		w := r.nextWaiterLocked()
		if w == nil {
			return
		}
		r.running++
		close(w.ready)
	}
}

func (r *Registry) nextWaiterLocked() *waiter {
	if len(r.catOrder) == 0 {
		return nil
	}

	for scanned := 0; scanned < len(r.catOrder); scanned++ {
		cat := r.catOrder[r.rrNext%len(r.catOrder)]
		r.rrNext = (r.rrNext + 1) % len(r.catOrder)

		queue := r.queues[cat]
		for len(queue) > 0 {
			w := queue[0]
			queue = queue[1:]
			r.queues[cat] = queue
			if !w.abandoned {
				return w
			}
		}
	}
	return nil
}

// SetRunning transitions a queued record to running.
func (r *Registry) SetRunning(id string, pid int, commandLine string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}

	rec.Status = StatusRunning
	rec.PID = pid
	rec.CommandLine = commandLine
	rec.StartedAt = time.Now()
	rec.cancel = cancel
	return nil
}

// NoteOutput updates the output counters after a chunk arrived.
func (r *Registry) NoteOutput(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	if rec.Output != nil {
		rec.BytesProcessed = rec.Output.TotalBytes()
	}
	rec.LastOutput = time.Now()
}

// UpdateProgress persists a progress estimate into the record. Percent
// values from structured signals are clamped monotonic non-decreasing.
func (r *Registry) UpdateProgress(id string, mode ProgressMode, percent float64, bar string, eta time.Duration, etaKnown bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status != StatusRunning {
		return
	}

	if mode == ProgressSignal && rec.ProgressMode == ProgressSignal && percent < rec.ProgressPercent {
		percent = rec.ProgressPercent
	}

	rec.ProgressMode = mode
	rec.ProgressPercent = percent
	rec.ProgressBar = bar
	rec.ETA = eta
	rec.ETAKnown = etaKnown
}

// Finish transitions a record to a terminal state exactly once. It
// returns false if the record was already terminal or unknown.
func (r *Registry) Finish(id string, status Status, kind errstats.Kind, summary string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}

	rec.Status = status
	rec.CompletedAt = time.Now()
	rec.ErrorKind = kind
	rec.ErrorSummary = summary
	rec.cancel = nil

	if status == StatusCompleted {
		rec.ProgressPercent = 100
		rec.ETA = 0
		rec.ETAKnown = true
	}

	r.logger.Info("Invocation finished",
		"id", id, "tool", rec.Tool, "status", status)
	return true
}

// Get returns a snapshot view of one record.
func (r *Registry) Get(id string) (RecordView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return RecordView{}, false
	}
	return rec.view(time.Now()), true
}

// List returns snapshot views of all records, newest first.
func (r *Registry) List() []RecordView {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	views := make([]RecordView, 0, len(r.records))
	for _, rec := range r.records {
		views = append(views, rec.view(now))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].StartTime.After(views[j].StartTime)
	})
	return views
}

// DashboardSnapshot returns the aggregate monitoring view.
func (r *Registry) DashboardSnapshot() Snapshot {
	r.mu.Lock()

	now := time.Now()
	snap := Snapshot{
		Timestamp:      now,
		TotalProcesses: len(r.records),
		Processes:      make([]RecordView, 0, len(r.records)),
	}
	for _, rec := range r.records {
		switch rec.Status {
		case StatusRunning:
			snap.Running++
		case StatusQueued:
			snap.Queued++
		}
		snap.Processes = append(snap.Processes, rec.view(now))
	}
	r.mu.Unlock()

	sort.Slice(snap.Processes, func(i, j int) bool {
		return snap.Processes[i].StartTime.After(snap.Processes[j].StartTime)
	})
	snap.SystemLoad = systemLoad()
	return snap
}

// Terminate cancels the running invocation with the given OS pid.
func (r *Registry) Terminate(pid int) error {
	r.mu.Lock()
	var cancel context.CancelFunc
	for _, rec := range r.records {
		if rec.PID == pid && rec.Status == StatusRunning && rec.cancel != nil {
			cancel = rec.cancel
			break
		}
	}
	r.mu.Unlock()

	if cancel == nil {
		return ErrNotFound
	}
	cancel()
	return nil
}

// CancelByID cancels a queued or running invocation by record ID.
func (r *Registry) CancelByID(id string) error {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	cancel := rec.cancel
	terminal := rec.Status.Terminal()
	r.mu.Unlock()

	if terminal {
		return ErrNotFound
	}
	if cancel == nil {
		return fmt.Errorf("invocation %s: no cancellation hook installed", id)
	}
	cancel()
	return nil
}

// SetCancel installs the cancellation hook for a record before it runs,
// so queued invocations can be cancelled too.
func (r *Registry) SetCancel(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.cancel = cancel
	}
}

// SweepTerminal purges terminal records older than the retention window.
// Purging a record never affects any cache entry it produced.
func (r *Registry) SweepTerminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.retention)
	removed := 0
	for id, rec := range r.records {
		if rec.Status.Terminal() && rec.CompletedAt.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Debug("Purged terminal records", "removed", removed)
	}
	return removed
}

// QueueDepths returns the current per-category admission queue depths.
func (r *Registry) QueueDepths() map[tools.Category]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	depths := make(map[tools.Category]int, len(r.queues))
	for cat, q := range r.queues {
		n := 0
		for _, w := range q {
			if !w.abandoned {
				n++
			}
		}
		depths[cat] = n
	}
	return depths
}

// RunningCount returns the number of held slots.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
