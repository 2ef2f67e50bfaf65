package sweeper

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
	"github.com/havij13/Hexstrike-AI-sub001/internal/fingerprint"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
)

func TestSweeper_DefaultJobs(t *testing.T) {
	resultCache := cache.New(cache.Config{MaxBytes: 1 << 20, TTL: time.Nanosecond})
	reg := registry.New(registry.Config{Retention: time.Nanosecond})
	cfg := config.SweeperConfig{
		CacheSweep:    "*/30 * * * * *",
		RegistrySweep: "0 * * * * *",
	}

	s := NewWithDefaults(slog.Default(), cfg, resultCache, reg, nil)

	// Seed an already-expired cache entry and a terminal record.
	fp := fingerprint.Compute("nmap", map[string]any{"target": "h"}, nil)
	resultCache.Put(fp, []byte("payload"))
	rec := &registry.ProcessRecord{ID: "r1", Tool: "nmap", Output: registry.NewOutputBuffer(0)}
	reg.Register(rec)
	reg.Finish("r1", registry.StatusCompleted, "", "done")
	time.Sleep(time.Millisecond)

	if err := s.RunJob("cache_sweep"); err != nil {
		t.Fatalf("RunJob(cache_sweep) error = %v", err)
	}
	if entries := resultCache.Stats().Entries; entries != 0 {
		t.Errorf("cache holds %d entries after sweep, want 0", entries)
	}

	if err := s.RunJob("registry_sweep"); err != nil {
		t.Fatalf("RunJob(registry_sweep) error = %v", err)
	}
	if got := len(reg.List()); got != 0 {
		t.Errorf("registry holds %d records after sweep, want 0", got)
	}

	// History job is absent when the store is nil.
	if err := s.RunJob("history_flush"); err == nil {
		t.Error("RunJob(history_flush) succeeded without a history store")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s := New(slog.Default())
	s.RegisterJob("tick", "* * * * * *", func(ctx context.Context) error {
		return nil
	})
	s.Start()
	// Start is idempotent and Stop leaves the sweeper restartable.
	s.Start()
	s.Stop()
	s.Stop()
}
