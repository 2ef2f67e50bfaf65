// Package sweeper runs the periodic maintenance jobs: TTL eviction in
// the result cache, terminal-record purging in the registry and run
// history pruning.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
	"github.com/havij13/Hexstrike-AI-sub001/internal/history"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
)

// Sweeper runs periodic jobs
type Sweeper struct {
	cron    *cron.Cron
	jobs    map[string]*Job
	logger  *slog.Logger
	mu      sync.Mutex
	running bool
}

// Job represents a scheduled task
type Job struct {
	Name       string
	Cron       string
	Handler    func(context.Context) error
	Enabled    bool
	LastRun    time.Time
	LastResult string
}

// New creates a new Sweeper
func New(logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cron:   cron.New(cron.WithSeconds()), // Enable seconds field
		jobs:   make(map[string]*Job),
		logger: logger.WithGroup("sweeper"),
	}
}

// NewWithDefaults creates a sweeper with the standard maintenance jobs
// registered against the given components. The history store may be nil.
func NewWithDefaults(logger *slog.Logger, cfg config.SweeperConfig, resultCache *cache.Cache, reg *registry.Registry, hist *history.Store) *Sweeper {
	s := New(logger)

	s.RegisterJob("cache_sweep", cfg.CacheSweep, func(ctx context.Context) error {
		if n := resultCache.SweepExpired(); n > 0 {
			s.logger.Info("Evicted expired cache entries", "count", n)
		}
		return nil
	})

	s.RegisterJob("registry_sweep", cfg.RegistrySweep, func(ctx context.Context) error {
		if n := reg.SweepTerminal(); n > 0 {
			s.logger.Info("Purged terminal process records", "count", n)
		}
		return nil
	})

	if hist != nil {
		s.RegisterJob("history_flush", cfg.HistoryFlush, func(ctx context.Context) error {
			_, err := hist.Prune(ctx)
			return err
		})
	}

	return s
}

// RegisterJob adds a new job to the sweeper
func (s *Sweeper) RegisterJob(name string, cronExpr string, handler func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = &Job{
		Name:    name,
		Cron:    cronExpr,
		Handler: handler,
		Enabled: true,
	}
}

// Start starts the sweeper
func (s *Sweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting sweeper")

	for name, job := range s.jobs {
		if !job.Enabled || job.Cron == "" {
			continue
		}

		jobName := name
		jobRef := job

		entryID, err := s.cron.AddFunc(job.Cron, func() {
			s.runJob(jobName, jobRef)
		})

		if err != nil {
			s.logger.Error("Failed to schedule job", "name", name, "cron", job.Cron, "error", err)
		} else {
			s.logger.Info("Scheduled job", "name", name, "cron", job.Cron, "entryID", entryID)
		}
	}

	s.cron.Start()
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping sweeper")
	s.cron.Stop()
	s.running = false
}

// RunJob runs one registered job immediately, outside its schedule.
func (s *Sweeper) RunJob(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.runJob(name, job)
	return nil
}

func (s *Sweeper) runJob(name string, job *Job) {
	s.logger.Debug("Running job", "name", name)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	job.LastRun = time.Now()

	if err := job.Handler(ctx); err != nil {
		s.logger.Error("Job failed", "name", name, "error", err)
		job.LastResult = fmt.Sprintf("failed: %v", err)
	} else {
		job.LastResult = "success"
	}
}
