// Package supervisor keeps the daemon's long-running workers alive. A
// failed worker is restarted with exponential backoff according to its
// strategy; a worker that keeps failing escalates to a supervisor-wide
// shutdown once the global restart intensity is exceeded.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RestartStrategy decides whether an exited worker comes back.
type RestartStrategy int

const (
	// Permanent workers are restarted no matter how they exited.
	Permanent RestartStrategy = iota
	// Transient workers are restarted only after an error exit.
	Transient
	// Temporary workers run once.
	Temporary
)

func (s RestartStrategy) String() string {
	switch s {
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

// Worker is a supervised unit of work. Start blocks until the worker
// exits or the context is cancelled.
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerSpec binds a worker to its restart policy.
type WorkerSpec struct {
	Worker        Worker
	Strategy      RestartStrategy
	MaxRestarts   int           // per worker, within RestartWindow
	RestartWindow time.Duration
}

const (
	defaultMaxRestarts   = 5
	defaultRestartWindow = time.Minute
	maxBackoff           = 30 * time.Second
	stopTimeout          = 10 * time.Second
)

// Supervisor runs a flat tree of workers.
type Supervisor struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	workers  []*workerState
	restarts []time.Time // global, for intensity escalation
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	intensity int
	period    time.Duration
}

type workerState struct {
	spec WorkerSpec

	mu       sync.Mutex
	restarts []time.Time
	running  bool
}

func New(name string, logger *slog.Logger, intensity int, period time.Duration) *Supervisor {
	return &Supervisor{
		name:      name,
		logger:    logger.With("supervisor", name),
		intensity: intensity,
		period:    period,
	}
}

// AddWorker registers a worker. Zero-valued policy fields get defaults.
func (s *Supervisor) AddWorker(spec WorkerSpec) {
	if spec.MaxRestarts == 0 {
		spec.MaxRestarts = defaultMaxRestarts
	}
	if spec.RestartWindow == 0 {
		spec.RestartWindow = defaultRestartWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, &workerState{spec: spec})
	s.logger.Info("Added worker", "worker", spec.Worker.Name(), "strategy", spec.Strategy.String())
}

// Start launches one supervision loop per registered worker.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	workers := s.workers
	s.mu.Unlock()

	s.logger.Info("Starting supervisor", "workers", len(workers))
	for _, ws := range workers {
		s.wg.Add(1)
		go s.supervise(ws)
	}
	return nil
}

// Stop cancels supervision, stops running workers and waits for the
// supervision loops to drain, bounded by stopTimeout.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	workers := s.workers
	s.mu.Unlock()

	s.logger.Info("Stopping supervisor")
	for _, ws := range workers {
		ws.mu.Lock()
		active := ws.running
		ws.mu.Unlock()
		if !active {
			continue
		}
		if err := ws.spec.Worker.Stop(); err != nil {
			s.logger.Error("Failed to stop worker", "worker", ws.spec.Worker.Name(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("Supervisor stopped")
	case <-time.After(stopTimeout):
		s.logger.Warn("Supervisor stop timed out")
	}
	return nil
}

// supervise is the per-worker restart loop.
func (s *Supervisor) supervise(ws *workerState) {
	defer s.wg.Done()
	name := ws.spec.Worker.Name()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		ws.mu.Lock()
		ws.running = true
		ws.mu.Unlock()

		err := ws.spec.Worker.Start(s.ctx)

		ws.mu.Lock()
		ws.running = false
		ws.mu.Unlock()

		// Exits during shutdown are expected and never restarted.
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err != nil {
			s.logger.Warn("Worker exited with error", "worker", name, "error", err)
		} else {
			s.logger.Info("Worker exited", "worker", name)
		}

		if !shouldRestart(ws.spec.Strategy, err) {
			s.logger.Info("Not restarting worker", "worker", name, "strategy", ws.spec.Strategy.String())
			return
		}

		if ws.recentRestarts() >= ws.spec.MaxRestarts {
			s.logger.Error("Worker exceeded restart limit",
				"worker", name, "max_restarts", ws.spec.MaxRestarts, "window", ws.spec.RestartWindow)
			s.escalate()
			return
		}

		now := time.Now()
		ws.mu.Lock()
		ws.restarts = append(ws.restarts, now)
		attempt := len(ws.restarts)
		ws.mu.Unlock()
		s.mu.Lock()
		s.restarts = append(s.restarts, now)
		s.mu.Unlock()

		backoff := backoffFor(attempt)
		s.logger.Warn("Restarting worker", "worker", name, "backoff", backoff, "attempt", attempt)
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
	}
}

func shouldRestart(strategy RestartStrategy, err error) bool {
	switch strategy {
	case Permanent:
		return true
	case Transient:
		return err != nil
	default:
		return false
	}
}

// recentRestarts counts this worker's restarts inside its window.
func (ws *workerState) recentRestarts() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	cutoff := time.Now().Add(-ws.spec.RestartWindow)
	n := 0
	for _, t := range ws.restarts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// backoffFor is exponential: 1s, 2s, 4s, ... capped at maxBackoff.
func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(1<<uint(attempt-1)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// escalate shuts the whole tree down when the global restart rate
// exceeds the configured intensity.
func (s *Supervisor) escalate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.period)
	n := 0
	for _, t := range s.restarts {
		if t.After(cutoff) {
			n++
		}
	}
	if n >= s.intensity {
		s.logger.Error("Restart intensity exceeded, shutting down",
			"restarts", n, "period", s.period, "intensity", s.intensity)
		if s.cancel != nil {
			s.cancel()
		}
	}
}

// WorkerCount returns the number of registered workers.
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// RunningWorkers returns how many workers are currently running.
func (s *Supervisor) RunningWorkers() int {
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	n := 0
	for _, ws := range workers {
		ws.mu.Lock()
		if ws.running {
			n++
		}
		ws.mu.Unlock()
	}
	return n
}
