// Package executor owns the lifecycle of one external tool subprocess:
// spawn, stream capture, cancellation, timeout and exit classification.
// The subprocess runs in its own process group so that termination
// reaches helper children the tool forks.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// ErrSpawn marks failures to launch the subprocess at all. Spawn errors
// surface synchronously to the caller and never populate the result cache.
var ErrSpawn = errors.New("spawn failure")

// Result is the terminal outcome of one supervised invocation.
type Result struct {
	Status   registry.Status
	Kind     errstats.Kind // empty for completed
	ExitCode int
	Output   string
	Stderr   string
	Duration time.Duration
	Summary  string
}

// Config holds supervisor construction parameters.
type Config struct {
	Registry        *registry.Registry
	Tracker         *progress.Tracker
	Logger          *slog.Logger
	TermGracePeriod time.Duration
	ProgressTick    time.Duration
}

// Supervisor spawns and supervises tool subprocesses.
type Supervisor struct {
	reg          *registry.Registry
	tracker      *progress.Tracker
	logger       *slog.Logger
	grace        time.Duration
	progressTick time.Duration
}

// New creates a process supervisor.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.TermGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	tick := cfg.ProgressTick
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}

	return &Supervisor{
		reg:          cfg.Registry,
		tracker:      cfg.Tracker,
		logger:       logger.WithGroup("executor"),
		grace:        grace,
		progressTick: tick,
	}
}

// Run executes one invocation to its terminal state. The record must
// already hold a concurrency slot. Cancelling ctx, or the registry
// invoking the cancel func installed via SetRunning, terminates the
// whole process tree. Run blocks until the subprocess is fully reaped.
func (s *Supervisor) Run(ctx context.Context, rec *registry.ProcessRecord, tool *tools.Tool, args []string, timeout time.Duration) Result {
	start := time.Now()

	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	cmd := exec.Command(tool.Command, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.spawnFailure(rec, tool, fmt.Errorf("stdout pipe: %w", err), start)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.spawnFailure(rec, tool, fmt.Errorf("stderr pipe: %w", err), start)
	}

	if err := cmd.Start(); err != nil {
		return s.spawnFailure(rec, tool, err, start)
	}

	commandLine := tool.Command + " " + strings.Join(args, " ")
	if err := s.reg.SetRunning(rec.ID, cmd.Process.Pid, commandLine, cancel); err != nil {
		s.logger.Error("Failed to mark record running", "id", rec.ID, "error", err)
	}
	s.logger.Info("Spawned tool",
		"id", rec.ID, "tool", tool.Name, "pid", cmd.Process.Pid, "timeout", timeout)

	// lastOutput is the wall clock of the most recent read from either
	// stream, shared between the drain goroutines and the progress loop.
	var lastOutput atomic.Int64
	lastOutput.Store(start.UnixNano())

	var stderrBuf strings.Builder
	var stderrMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.drain(rec, stdout, nil, nil, &lastOutput)
	}()
	go func() {
		defer wg.Done()
		s.drain(rec, stderr, &stderrBuf, &stderrMu, &lastOutput)
	}()

	stop := make(chan struct{})
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.progressLoop(rec, tool, start, &lastOutput, stop)
	}()
	go func() {
		defer loops.Done()
		select {
		case <-runCtx.Done():
			terminateGroup(cmd.Process.Pid, s.grace, s.logger.With("id", rec.ID, "tool", tool.Name))
		case <-stop:
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	ctxErr := runCtx.Err()
	close(stop)
	cancel()
	loops.Wait()

	duration := time.Since(start)
	output := rec.Output.String()
	stderrMu.Lock()
	errOut := stderrBuf.String()
	stderrMu.Unlock()

	switch {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return Result{
			Status:   registry.StatusTimedOut,
			Kind:     errstats.KindTimeout,
			ExitCode: exitCode(waitErr),
			Output:   output,
			Stderr:   errOut,
			Duration: duration,
			Summary:  fmt.Sprintf("%s timed out after %v", tool.Name, timeout),
		}
	case ctxErr != nil:
		// Covers both a child killed by the signal and one that traps
		// SIGTERM and exits cleanly; a cancelled attempt is never
		// reported as completed.
		code := exitCode(waitErr)
		if waitErr == nil {
			code = 0
		}
		return Result{
			Status:   registry.StatusCancelled,
			Kind:     errstats.KindCancelled,
			ExitCode: code,
			Output:   output,
			Stderr:   errOut,
			Duration: duration,
			Summary:  fmt.Sprintf("%s cancelled after %v", tool.Name, duration.Round(time.Millisecond)),
		}
	case waitErr != nil:
		code := exitCode(waitErr)
		return Result{
			Status:   registry.StatusFailed,
			Kind:     errstats.KindNonzeroExit,
			ExitCode: code,
			Output:   output,
			Stderr:   errOut,
			Duration: duration,
			Summary:  fmt.Sprintf("%s exited with status %d", tool.Name, code),
		}
	case !utf8.ValidString(output):
		return Result{
			Status:   registry.StatusFailed,
			Kind:     errstats.KindMalformedOutput,
			Output:   output,
			Stderr:   errOut,
			Duration: duration,
			Summary:  fmt.Sprintf("%s produced undecodable output", tool.Name),
		}
	default:
		s.tracker.Stats().Observe(tool.Name, duration)
		return Result{
			Status:   registry.StatusCompleted,
			Output:   output,
			Stderr:   errOut,
			Duration: duration,
			Summary:  fmt.Sprintf("%s completed in %v", tool.Name, duration.Round(time.Millisecond)),
		}
	}
}

func (s *Supervisor) spawnFailure(rec *registry.ProcessRecord, tool *tools.Tool, err error, start time.Time) Result {
	s.logger.Error("Failed to spawn tool", "id", rec.ID, "tool", tool.Name, "error", err)
	return Result{
		Status:   registry.StatusFailed,
		Kind:     errstats.KindSpawnFailure,
		ExitCode: -1,
		Duration: time.Since(start),
		Summary:  fmt.Sprintf("failed to launch %s: %v", tool.Name, err),
	}
}

// drain copies a stream into the record's bounded output buffer chunk by
// chunk so partial output survives a later kill.
func (s *Supervisor) drain(rec *registry.ProcessRecord, r io.Reader, tee *strings.Builder, teeMu *sync.Mutex, lastOutput *atomic.Int64) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			rec.Output.Write(buf[:n])
			if tee != nil {
				teeMu.Lock()
				tee.Write(buf[:n])
				teeMu.Unlock()
			}
			lastOutput.Store(time.Now().UnixNano())
			s.reg.NoteOutput(rec.ID)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) progressLoop(rec *registry.ProcessRecord, tool *tools.Tool, start time.Time, lastOutput *atomic.Int64, stop <-chan struct{}) {
	ticker := time.NewTicker(s.progressTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sinceOutput := time.Since(time.Unix(0, lastOutput.Load()))
			est := s.tracker.Estimate(tool, rec.Output.String(), time.Since(start), sinceOutput)
			s.reg.UpdateProgress(rec.ID, est.Mode, est.Percent, est.Bar, est.ETA, est.ETAKnown)
		}
	}
}

// exitCode extracts the process exit status, -1 when the process died on
// a signal or never ran.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
