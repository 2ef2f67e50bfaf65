//go:build !windows

package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Config{MaxConcurrent: 4, MaxQueued: 4})
	sup := New(Config{
		Registry:        reg,
		Tracker:         progress.NewTracker(progress.NewDurationStats()),
		TermGracePeriod: 200 * time.Millisecond,
		ProgressTick:    50 * time.Millisecond,
	})
	return sup, reg
}

func newTestRecord(t *testing.T, reg *registry.Registry, id string) *registry.ProcessRecord {
	t.Helper()
	rec := &registry.ProcessRecord{
		ID:       id,
		Tool:     "sh",
		Category: tools.CategoryNetwork,
		Output:   registry.NewOutputBuffer(64 * 1024),
	}
	reg.Register(rec)
	if err := reg.Acquire(context.Background(), rec); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(reg.Release)
	return rec
}

func shellTool(script string) (*tools.Tool, []string) {
	return &tools.Tool{
		Name:     "sh",
		Command:  "/bin/sh",
		Category: tools.CategoryNetwork,
	}, []string{"-c", script}
}

func TestSupervisor_RunCompleted(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-ok")
	tool, args := shellTool("printf 'hello world'")

	res := sup.Run(context.Background(), rec, tool, args, 5*time.Second)

	if res.Status != registry.StatusCompleted {
		t.Fatalf("Status = %q, want %q (summary: %s)", res.Status, registry.StatusCompleted, res.Summary)
	}
	if res.Kind != "" {
		t.Errorf("Kind = %q, want empty", res.Kind)
	}
	if !strings.Contains(res.Output, "hello world") {
		t.Errorf("Output = %q, want it to contain %q", res.Output, "hello world")
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
}

func TestSupervisor_RunNonzeroExit(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-exit3")
	tool, args := shellTool("echo oops >&2; exit 3")

	res := sup.Run(context.Background(), rec, tool, args, 5*time.Second)

	if res.Status != registry.StatusFailed {
		t.Fatalf("Status = %q, want %q", res.Status, registry.StatusFailed)
	}
	if res.Kind != errstats.KindNonzeroExit {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindNonzeroExit)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("Stderr = %q, want it to contain %q", res.Stderr, "oops")
	}
}

func TestSupervisor_RunTimeout(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-timeout")
	tool, args := shellTool("echo started; sleep 30")

	start := time.Now()
	res := sup.Run(context.Background(), rec, tool, args, 300*time.Millisecond)

	if res.Status != registry.StatusTimedOut {
		t.Fatalf("Status = %q, want %q", res.Status, registry.StatusTimedOut)
	}
	if res.Kind != errstats.KindTimeout {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindTimeout)
	}
	if !strings.Contains(res.Output, "started") {
		t.Errorf("Output = %q, want partial output retained", res.Output)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run took %v, want prompt termination", elapsed)
	}
}

func TestSupervisor_RunCancelled(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-cancel")
	tool, args := shellTool("sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	res := sup.Run(ctx, rec, tool, args, time.Minute)

	if res.Status != registry.StatusCancelled {
		t.Fatalf("Status = %q, want %q (summary: %s)", res.Status, registry.StatusCancelled, res.Summary)
	}
	if res.Kind != errstats.KindCancelled {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindCancelled)
	}
}

func TestSupervisor_CancelledTrapCleanExit(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-trap")
	// The child traps the termination signal and exits 0; the attempt is
	// still cancelled, never completed.
	tool, args := shellTool(`trap 'exit 0' TERM; sleep 30 & wait`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	res := sup.Run(ctx, rec, tool, args, time.Minute)

	if res.Status != registry.StatusCancelled {
		t.Fatalf("Status = %q, want %q (summary: %s)", res.Status, registry.StatusCancelled, res.Summary)
	}
	if res.Kind != errstats.KindCancelled {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindCancelled)
	}
}

func TestSupervisor_TerminateViaRegistry(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-terminate")
	tool, args := shellTool("sleep 30")

	done := make(chan Result, 1)
	go func() {
		done <- sup.Run(context.Background(), rec, tool, args, time.Minute)
	}()

	// Wait for the PID to appear, then cancel through the registry the
	// way the dashboard terminate endpoint does.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if view, ok := reg.Get(rec.ID); ok && view.PID > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never reached running state")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := reg.CancelByID(rec.ID); err != nil {
		t.Fatalf("CancelByID() error = %v", err)
	}

	select {
	case res := <-done:
		if res.Status != registry.StatusCancelled {
			t.Errorf("Status = %q, want %q", res.Status, registry.StatusCancelled)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after termination")
	}
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-spawn")
	tool := &tools.Tool{Name: "ghost", Command: "/nonexistent/ghost-scanner", Category: tools.CategoryNetwork}

	res := sup.Run(context.Background(), rec, tool, nil, 5*time.Second)

	if res.Status != registry.StatusFailed {
		t.Fatalf("Status = %q, want %q", res.Status, registry.StatusFailed)
	}
	if res.Kind != errstats.KindSpawnFailure {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindSpawnFailure)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestSupervisor_MalformedOutput(t *testing.T) {
	sup, reg := newTestSupervisor(t)
	rec := newTestRecord(t, reg, "run-malformed")
	tool, args := shellTool(`printf '\377\376\375'`)

	res := sup.Run(context.Background(), rec, tool, args, 5*time.Second)

	if res.Status != registry.StatusFailed {
		t.Fatalf("Status = %q, want %q", res.Status, registry.StatusFailed)
	}
	if res.Kind != errstats.KindMalformedOutput {
		t.Errorf("Kind = %q, want %q", res.Kind, errstats.KindMalformedOutput)
	}
}

func TestSupervisor_ObservesDurationOnSuccess(t *testing.T) {
	stats := progress.NewDurationStats()
	reg := registry.New(registry.Config{MaxConcurrent: 2, MaxQueued: 2})
	sup := New(Config{Registry: reg, Tracker: progress.NewTracker(stats)})
	rec := newTestRecord(t, reg, "run-observe")
	tool, args := shellTool("true")

	res := sup.Run(context.Background(), rec, tool, args, 5*time.Second)
	if res.Status != registry.StatusCompleted {
		t.Fatalf("Status = %q, want %q", res.Status, registry.StatusCompleted)
	}
	if _, ok := stats.Median(tool.Name); !ok {
		t.Error("Median() reported no samples after a successful run")
	}
}
