// Package daemon assembles the engine components and owns the service
// lifecycle: PID file, background fork, supervision tree, HTTP server
// and graceful drain.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/api"
	"github.com/havij13/Hexstrike-AI-sub001/internal/auth"
	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/config"
	"github.com/havij13/Hexstrike-AI-sub001/internal/engine"
	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/executor"
	"github.com/havij13/Hexstrike-AI-sub001/internal/history"
	"github.com/havij13/Hexstrike-AI-sub001/internal/logger"
	"github.com/havij13/Hexstrike-AI-sub001/internal/metrics"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/selector"
	"github.com/havij13/Hexstrike-AI-sub001/internal/supervisor"
	"github.com/havij13/Hexstrike-AI-sub001/internal/sweeper"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// Version is stamped at build time.
var Version = "dev"

// Daemon manages the hexstriked service lifecycle
type Daemon struct {
	config         *config.Config
	logger         *slog.Logger
	pidFile        string
	currentLogPath string

	catalog    *tools.Catalog
	cache      *cache.Cache
	reg        *registry.Registry
	errs       *errstats.Aggregator
	stats      *progress.DurationStats
	engine     *engine.Engine
	hist       *history.Store
	metrics    *metrics.Metrics
	apiServer  *api.Server
	sweeper    *sweeper.Sweeper
	supervisor *supervisor.Supervisor
}

// New creates a new Daemon instance
func New(configPath string) (*Daemon, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	// Setup logger with rotating file and console capture
	mainLogger, _, currentLogPath, err := logger.SetupLogger(cfg.Hexstrike.Daemon)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	return &Daemon{
		config:         cfg,
		logger:         mainLogger,
		pidFile:        cfg.Hexstrike.Daemon.PIDFile,
		currentLogPath: currentLogPath,
	}, nil
}

// Start starts the daemon
func (d *Daemon) Start() error {
	// Check if already running
	if d.isRunning() {
		return fmt.Errorf("daemon already running (PID: %d)", d.getPID())
	}

	// Daemonize if requested via environment variable (set by wrapper)
	if os.Getenv("HEXSTRIKE_FOREGROUND") != "1" {
		return d.daemonize()
	}

	// Write PID file
	if err := d.writePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer d.removePID()

	hx := d.config.Hexstrike

	d.logger.Info("========================================")
	d.logger.Info("HEXSTRIKE DAEMON STARTING",
		"version", Version,
		"pid", os.Getpid(),
		"addr", fmt.Sprintf("%s:%d", hx.API.Host, hx.API.Port),
		"log_file", d.currentLogPath)
	d.logger.Info("========================================")

	if err := d.buildComponents(); err != nil {
		return err
	}

	if err := d.buildSupervisorTree(); err != nil {
		return err
	}
	if err := d.supervisor.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	d.logger.Info("Supervisor started", "workers", d.supervisor.WorkerCount())

	// Block until a termination signal arrives
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	d.logger.Info("Received signal", "signal", sig.String())

	return d.Shutdown()
}

// buildComponents wires the engine core in dependency order.
func (d *Daemon) buildComponents() error {
	hx := d.config.Hexstrike

	d.catalog = tools.DefaultCatalog()
	if err := d.catalog.ApplyConfig(hx.Tools); err != nil {
		return fmt.Errorf("invalid tool configuration: %w", err)
	}

	d.cache = cache.New(cache.Config{
		MaxBytes: hx.Cache.MaxBytes,
		TTL:      hx.Cache.TTL,
	})
	d.reg = registry.New(registry.Config{
		MaxConcurrent: hx.Registry.MaxConcurrent,
		MaxQueued:     hx.Registry.MaxQueued,
		Retention:     hx.Registry.Retention,
		Logger:        d.logger,
	})
	d.errs = errstats.New(0)
	d.stats = progress.NewDurationStats()
	tracker := progress.NewTracker(d.stats)

	if hx.History.Enabled {
		store, err := history.Open(hx.History.Path, hx.History.MaxRuns, d.logger)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		d.hist = store

		// Warm the duration statistics from persisted runs so the
		// heuristic progress mode works from the first invocation.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.LoadDurations(ctx, d.stats); err != nil {
			d.logger.Warn("Failed to load duration history", "error", err)
		}
	}

	if hx.Metrics.Enabled {
		d.metrics = metrics.New()
		d.metrics.RegisterRuntimeGauges(
			func() float64 { return float64(d.reg.RunningCount()) },
			func() float64 {
				total := 0
				for _, n := range d.reg.QueueDepths() {
					total += n
				}
				return float64(total)
			},
		)
	}

	sup := executor.New(executor.Config{
		Registry:        d.reg,
		Tracker:         tracker,
		Logger:          d.logger,
		TermGracePeriod: hx.Engine.TermGracePeriod,
	})

	d.engine = engine.New(engine.Config{
		Catalog:        d.catalog,
		Cache:          d.cache,
		Registry:       d.reg,
		Supervisor:     sup,
		Tracker:        tracker,
		Errors:         d.errs,
		History:        d.hist,
		Metrics:        d.metrics,
		Logger:         d.logger,
		DefaultTimeout:  hx.Engine.DefaultTimeout,
		MaxOutputBytes:  hx.Engine.MaxOutputBytes,
		ResultRetention: hx.Registry.Retention,
	})

	jwtSecret := hx.Security.JWTSecret
	if jwtSecret == "" {
		// An unset secret gets a random one: tokens then only survive
		// one daemon lifetime, which is the safe failure mode.
		secret, err := auth.GenerateSecretKey()
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		jwtSecret = secret
		d.logger.Warn("No JWT secret configured, generated an ephemeral one")
	}
	jwtManager := auth.NewJWTManager(jwtSecret, hx.Security.APIKey, hx.Security.TokenDuration)

	d.apiServer = api.NewServer(api.Config{
		Logger:          d.logger,
		Engine:          d.engine,
		Registry:        d.reg,
		Cache:           d.cache,
		Errors:          d.errs,
		Catalog:         d.catalog,
		Selector:        selector.New(d.catalog, d.errs, d.stats),
		History:         d.hist,
		Metrics:         d.metrics,
		JWTManager:      jwtManager,
		BootstrapAPIKey: hx.Security.BootstrapAPIKey,
		Version:         Version,
	})

	d.sweeper = sweeper.NewWithDefaults(d.logger, hx.Sweeper, d.cache, d.reg, d.hist)
	d.sweeper.RegisterJob("result_sweep", hx.Sweeper.RegistrySweep, func(ctx context.Context) error {
		d.engine.SweepDelivered()
		return nil
	})
	return nil
}

// buildSupervisorTree registers all long-running workers.
func (d *Daemon) buildSupervisorTree() error {
	hx := d.config.Hexstrike
	d.supervisor = supervisor.New("hexstrike-root", d.logger, 10, 1*time.Minute)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", hx.API.Host, hx.API.Port),
		Handler:           d.apiServer.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	d.supervisor.AddWorker(supervisor.WorkerSpec{
		Worker:        supervisor.NewHTTPWorker(httpServer, d.logger),
		Strategy:      supervisor.Permanent,
		MaxRestarts:   5,
		RestartWindow: 1 * time.Minute,
	})

	d.supervisor.AddWorker(supervisor.WorkerSpec{
		Worker:        supervisor.NewSweeperWorker(d.sweeper, d.logger),
		Strategy:      supervisor.Permanent,
		MaxRestarts:   5,
		RestartWindow: 1 * time.Minute,
	})

	d.supervisor.AddWorker(supervisor.WorkerSpec{
		Worker:        supervisor.NewHubWorker(d.apiServer.Hub(), d.logger),
		Strategy:      supervisor.Permanent,
		MaxRestarts:   5,
		RestartWindow: 1 * time.Minute,
	})

	return nil
}

// Shutdown gracefully stops the daemon
func (d *Daemon) Shutdown() error {
	d.logger.Info("Shutting down...")

	// Stop supervised workers first so no new requests arrive while the
	// engine drains in-flight invocations.
	if d.supervisor != nil {
		if err := d.supervisor.Stop(); err != nil {
			d.logger.Error("Error stopping supervisor", "error", err)
		}
	}

	if d.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.engine.Shutdown(ctx); err != nil {
			d.logger.Error("Engine drain incomplete", "error", err)
		}
	}

	if d.hist != nil {
		if err := d.hist.Close(); err != nil {
			d.logger.Error("Error closing history store", "error", err)
		}
	}

	d.logger.Info("Shutdown complete")
	return nil
}

// Stop signals a running daemon via its PID file.
func (d *Daemon) Stop() error {
	pid := d.getPID()
	if pid == 0 {
		return fmt.Errorf("daemon not running (no PID file at %s)", d.pidFile)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon (PID %d): %w", pid, err)
	}
	return nil
}

// Status reports whether a daemon is running and under which PID.
func (d *Daemon) Status() (bool, int) {
	return d.isRunning(), d.getPID()
}

func (d *Daemon) daemonize() error {
	// Fork and exec with HEXSTRIKE_FOREGROUND=1
	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), "HEXSTRIKE_FOREGROUND=1")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	// Platform-specific daemonization (Linux/Mac only, skipped on Windows)
	return cmd.Start()
}

func (d *Daemon) writePID() error {
	if d.pidFile == "" {
		// Use default if not configured
		d.pidFile = "/tmp/hexstriked.pid"
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (d *Daemon) removePID() {
	if d.pidFile != "" {
		os.Remove(d.pidFile)
	}
}

func (d *Daemon) getPID() int {
	if d.pidFile == "" {
		return 0
	}
	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0
	}
	return pid
}

func (d *Daemon) isRunning() bool {
	pid := d.getPID()
	if pid == 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
