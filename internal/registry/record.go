package registry

import (
	"context"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// Status is the lifecycle state of one invocation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// ProgressMode distinguishes how the progress percentage was obtained.
// The distinction is deliberately kept: a number parsed from tool output
// means something different from one guessed off historical durations,
// and silent tools report no number at all.
type ProgressMode string

const (
	ProgressSignal    ProgressMode = "signal"    // parsed from tool output
	ProgressHeuristic ProgressMode = "heuristic" // estimated from history
	ProgressUnknown   ProgressMode = "unknown"   // heartbeat only
)

// ProcessRecord is the live/historical state of one tool invocation.
// It is owned by the Registry; all mutation goes through Registry methods.
type ProcessRecord struct {
	ID          string
	PID         int
	Tool        string
	Category    tools.Category
	CommandLine string
	Status      Status

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	LastOutput  time.Time

	BytesProcessed int64
	Output         *OutputBuffer

	ProgressMode    ProgressMode
	ProgressPercent float64
	ProgressBar     string
	ETA             time.Duration
	ETAKnown        bool

	ErrorKind    errstats.Kind
	ErrorSummary string

	// cancel terminates the coordinating goroutine's subprocess; set by
	// the executor while running so Terminate can reach it.
	cancel context.CancelFunc
}

// RecordView is the poll/subscribe snapshot shape consumed by dashboards.
type RecordView struct {
	ID              string        `json:"id"`
	PID             int           `json:"pid"`
	Tool            string        `json:"tool"`
	Category        string        `json:"category"`
	Command         string        `json:"command"`
	Status          Status        `json:"status"`
	StartTime       time.Time     `json:"start_time"`
	Runtime         float64       `json:"runtime"`
	ProgressMode    ProgressMode  `json:"progress_mode"`
	ProgressPercent float64       `json:"progress_percent"`
	ProgressBar     string        `json:"progress_bar"`
	ETA             float64       `json:"eta"`
	ETAKnown        bool          `json:"eta_known"`
	BytesProcessed  int64         `json:"bytes_processed"`
	LastOutput      string        `json:"last_output"`
	ErrorKind       errstats.Kind `json:"error_kind,omitempty"`
	ErrorSummary    string        `json:"error,omitempty"`
}

// view renders the record for external consumption. Caller holds the
// registry lock.
func (r *ProcessRecord) view(now time.Time) RecordView {
	v := RecordView{
		ID:              r.ID,
		PID:             r.PID,
		Tool:            r.Tool,
		Category:        string(r.Category),
		Command:         r.CommandLine,
		Status:          r.Status,
		StartTime:       r.StartedAt,
		ProgressMode:    r.ProgressMode,
		ProgressPercent: r.ProgressPercent,
		ProgressBar:     r.ProgressBar,
		ETAKnown:        r.ETAKnown,
		BytesProcessed:  r.BytesProcessed,
		ErrorKind:       r.ErrorKind,
		ErrorSummary:    r.ErrorSummary,
	}
	if r.ETAKnown {
		v.ETA = r.ETA.Seconds()
	}
	if !r.StartedAt.IsZero() {
		end := now
		if !r.CompletedAt.IsZero() {
			end = r.CompletedAt
		}
		v.Runtime = end.Sub(r.StartedAt).Seconds()
	}
	if r.Output != nil {
		v.LastOutput = r.Output.Tail(256)
	}
	return v
}

// OutputBuffer is a bounded accumulated-output buffer. Old bytes fall off
// the front when the cap is exceeded; the total processed count keeps
// growing.
type OutputBuffer struct {
	mu         sync.RWMutex
	data       []byte
	maxSize    int64
	totalBytes int64
}

// NewOutputBuffer creates a buffer bounded at maxSize bytes.
func NewOutputBuffer(maxSize int64) *OutputBuffer {
	if maxSize <= 0 {
		maxSize = 64 * 1024
	}
	return &OutputBuffer{maxSize: maxSize}
}

// Write appends data, trimming from the front past the size bound.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	b.totalBytes += int64(len(p))

	if int64(len(b.data)) > b.maxSize {
		excess := int64(len(b.data)) - b.maxSize
		b.data = b.data[excess:]
	}
	return len(p), nil
}

// String returns the retained output.
func (b *OutputBuffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return string(b.data)
}

// Tail returns up to n trailing bytes of retained output.
func (b *OutputBuffer) Tail(n int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.data) <= n {
		return string(b.data)
	}
	return string(b.data[len(b.data)-n:])
}

// TotalBytes returns the total bytes ever written, including trimmed ones.
func (b *OutputBuffer) TotalBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalBytes
}
