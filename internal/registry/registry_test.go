package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

func newRecord(id string, cat tools.Category) *ProcessRecord {
	return &ProcessRecord{
		ID:       id,
		Tool:     "nmap",
		Category: cat,
		Output:   NewOutputBuffer(1024),
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := New(Config{MaxConcurrent: 2})

	rec := newRecord("inv-1", tools.CategoryNetwork)
	r.Register(rec)

	view, ok := r.Get("inv-1")
	if !ok {
		t.Fatal("expected record present after Register")
	}
	if view.Status != StatusQueued {
		t.Errorf("expected queued, got %s", view.Status)
	}

	if err := r.Acquire(context.Background(), rec); err != nil {
		t.Fatalf("unexpected admission error: %v", err)
	}
	if err := r.SetRunning("inv-1", 1234, "nmap scanme.nmap.org", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	view, _ = r.Get("inv-1")
	if view.Status != StatusRunning || view.PID != 1234 {
		t.Errorf("expected running with pid, got %+v", view)
	}

	if !r.Finish("inv-1", StatusCompleted, "", "") {
		t.Error("expected Finish to transition")
	}
	r.Release()

	// Terminal transition happens exactly once
	if r.Finish("inv-1", StatusFailed, errstats.KindNonzeroExit, "late") {
		t.Error("expected second Finish to be rejected")
	}
	view, _ = r.Get("inv-1")
	if view.Status != StatusCompleted {
		t.Errorf("expected status to stay completed, got %s", view.Status)
	}
}

func TestRegistry_ConcurrencyCap(t *testing.T) {
	r := New(Config{MaxConcurrent: 2})

	a := newRecord("a", tools.CategoryNetwork)
	b := newRecord("b", tools.CategoryNetwork)
	c := newRecord("c", tools.CategoryNetwork)
	for _, rec := range []*ProcessRecord{a, b, c} {
		r.Register(rec)
	}

	if err := r.Acquire(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := r.Acquire(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	// Third acquire must block until a slot frees
	acquired := make(chan error, 1)
	go func() { acquired <- r.Acquire(context.Background(), c) }()

	select {
	case <-acquired:
		t.Fatal("expected third acquire to block at the cap")
	case <-time.After(50 * time.Millisecond):
	}

	r.Release() // a completes

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("expected queued acquire to succeed after release, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued acquire did not proceed after slot release")
	}
}

func TestRegistry_QueueFullRejects(t *testing.T) {
	r := New(Config{MaxConcurrent: 1, MaxQueued: 1})

	a := newRecord("a", tools.CategoryWeb)
	r.Register(a)
	if err := r.Acquire(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	// One waiter fits in the queue
	b := newRecord("b", tools.CategoryWeb)
	r.Register(b)
	go r.Acquire(context.Background(), b)
	time.Sleep(20 * time.Millisecond)

	// The next is rejected, not silently dropped
	c := newRecord("c", tools.CategoryWeb)
	r.Register(c)
	err := r.Acquire(context.Background(), c)
	if err == nil {
		t.Fatal("expected queue-full rejection")
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestRegistry_CategoryFairness(t *testing.T) {
	r := New(Config{MaxConcurrent: 1, MaxQueued: 10})

	hold := newRecord("hold", tools.CategoryNetwork)
	r.Register(hold)
	if err := r.Acquire(context.Background(), hold); err != nil {
		t.Fatal(err)
	}

	// Three network waiters pile up first, then one web waiter
	results := make(chan string, 4)
	enqueue := func(id string, cat tools.Category) {
		rec := newRecord(id, cat)
		r.Register(rec)
		go func() {
			if err := r.Acquire(context.Background(), rec); err == nil {
				results <- id
			}
		}()
		time.Sleep(20 * time.Millisecond) // deterministic FIFO order
	}

	enqueue("net-1", tools.CategoryNetwork)
	enqueue("net-2", tools.CategoryNetwork)
	enqueue("net-3", tools.CategoryNetwork)
	enqueue("web-1", tools.CategoryWeb)

	var order []string
	for i := 0; i < 4; i++ {
		r.Release()
		select {
		case id := <-results:
			order = append(order, id)
		case <-time.After(time.Second):
			t.Fatalf("no waiter woke on release %d (order so far %v)", i, order)
		}
	}

	// Round-robin across categories: web-1 must not wait behind all
	// three network waiters.
	webPos := -1
	for i, id := range order {
		if id == "web-1" {
			webPos = i
		}
	}
	if webPos == -1 || webPos > 1 {
		t.Errorf("expected web-1 served within first two wakes, got order %v", order)
	}

	// FIFO within a category
	netOrder := make([]string, 0, 3)
	for _, id := range order {
		if id != "web-1" {
			netOrder = append(netOrder, id)
		}
	}
	for i, want := range []string{"net-1", "net-2", "net-3"} {
		if netOrder[i] != want {
			t.Errorf("expected FIFO within category, got %v", netOrder)
			break
		}
	}
}

func TestRegistry_AcquireContextCancel(t *testing.T) {
	r := New(Config{MaxConcurrent: 1})

	a := newRecord("a", tools.CategoryNetwork)
	r.Register(a)
	if err := r.Acquire(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := newRecord("b", tools.CategoryNetwork)
	r.Register(b)

	done := make(chan error, 1)
	go func() { done <- r.Acquire(ctx, b) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}

	// The abandoned waiter must not consume the freed slot
	c := newRecord("c", tools.CategoryNetwork)
	r.Register(c)
	got := make(chan error, 1)
	go func() { got <- r.Acquire(context.Background(), c) }()
	time.Sleep(20 * time.Millisecond)
	r.Release()

	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("expected acquire after abandoned waiter, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("slot lost to abandoned waiter")
	}
}

func TestRegistry_ProgressMonotonicClamp(t *testing.T) {
	r := New(Config{MaxConcurrent: 1})

	rec := newRecord("p", tools.CategoryNetwork)
	r.Register(rec)
	r.Acquire(context.Background(), rec)
	r.SetRunning("p", 1, "nmap", nil)

	r.UpdateProgress("p", ProgressSignal, 40, "[####      ]", time.Minute, true)
	r.UpdateProgress("p", ProgressSignal, 30, "[###       ]", time.Minute, true)

	view, _ := r.Get("p")
	if view.ProgressPercent != 40 {
		t.Errorf("expected signal percent clamped monotonic at 40, got %f", view.ProgressPercent)
	}

	// Heuristic updates are not clamped against signal values
	r.UpdateProgress("p", ProgressHeuristic, 10, "", 0, false)
	view, _ = r.Get("p")
	if view.ProgressMode != ProgressHeuristic || view.ProgressPercent != 10 {
		t.Errorf("expected heuristic mode update applied, got %+v", view)
	}
}

func TestRegistry_SweepTerminal(t *testing.T) {
	r := New(Config{MaxConcurrent: 1, Retention: 10 * time.Millisecond})

	rec := newRecord("old", tools.CategoryNetwork)
	r.Register(rec)
	r.Finish("old", StatusCompleted, "", "")

	live := newRecord("live", tools.CategoryNetwork)
	r.Register(live)

	time.Sleep(20 * time.Millisecond)

	if removed := r.SweepTerminal(); removed != 1 {
		t.Errorf("expected 1 purged record, got %d", removed)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("expected terminal record purged")
	}
	if _, ok := r.Get("live"); !ok {
		t.Error("expected non-terminal record retained")
	}
}

func TestRegistry_TerminateByPID(t *testing.T) {
	r := New(Config{MaxConcurrent: 1})

	cancelled := make(chan struct{})
	rec := newRecord("x", tools.CategoryNetwork)
	r.Register(rec)
	r.Acquire(context.Background(), rec)
	r.SetRunning("x", 4242, "nmap", func() { close(cancelled) })

	if err := r.Terminate(9999); err == nil {
		t.Error("expected not-found for unknown pid")
	}
	if err := r.Terminate(4242); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("terminate did not invoke cancel")
	}
}

func TestOutputBuffer_Bounded(t *testing.T) {
	b := NewOutputBuffer(10)

	b.Write([]byte("0123456789"))
	b.Write([]byte("abc"))

	if got := b.String(); got != "3456789abc" {
		t.Errorf("expected trimmed buffer, got %q", got)
	}
	if b.TotalBytes() != 13 {
		t.Errorf("expected total 13 bytes processed, got %d", b.TotalBytes())
	}
	if got := b.Tail(3); got != "abc" {
		t.Errorf("expected tail 'abc', got %q", got)
	}
}
