package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/api"
	"github.com/havij13/Hexstrike-AI-sub001/internal/sweeper"
)

// HTTPWorker wraps the API's http.Server for supervision
type HTTPWorker struct {
	server *http.Server
	logger *slog.Logger
}

// NewHTTPWorker creates a supervised HTTP server worker
func NewHTTPWorker(server *http.Server, logger *slog.Logger) *HTTPWorker {
	return &HTTPWorker{
		server: server,
		logger: logger.With("worker", "http"),
	}
}

func (w *HTTPWorker) Start(ctx context.Context) error {
	w.logger.Info("HTTPWorker starting", "addr", w.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info("HTTPWorker stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	}
}

func (w *HTTPWorker) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return w.server.Shutdown(shutdownCtx)
}

func (w *HTTPWorker) Name() string {
	return "http"
}

// SweeperWorker wraps the Sweeper for supervision
type SweeperWorker struct {
	sweeper *sweeper.Sweeper
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// NewSweeperWorker creates a supervised sweeper worker
func NewSweeperWorker(s *sweeper.Sweeper, logger *slog.Logger) *SweeperWorker {
	return &SweeperWorker{
		sweeper: s,
		logger:  logger.With("worker", "sweeper"),
	}
}

func (w *SweeperWorker) Start(ctx context.Context) error {
	w.logger.Info("SweeperWorker starting")

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	// Start the sweeper (non-blocking, uses internal cron)
	w.sweeper.Start()

	// Block until context is cancelled
	<-runCtx.Done()

	w.logger.Info("SweeperWorker stopping")
	w.sweeper.Stop()
	return runCtx.Err()
}

func (w *SweeperWorker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

func (w *SweeperWorker) Name() string {
	return "sweeper"
}

// HubWorker drives the dashboard WebSocket broadcast loop
type HubWorker struct {
	hub    *api.Hub
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewHubWorker creates a supervised dashboard stream worker
func NewHubWorker(hub *api.Hub, logger *slog.Logger) *HubWorker {
	return &HubWorker{
		hub:    hub,
		logger: logger.With("worker", "hub"),
	}
}

func (w *HubWorker) Start(ctx context.Context) error {
	w.logger.Info("HubWorker starting")

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.hub.Run(runCtx)

	w.logger.Info("HubWorker stopped")
	return runCtx.Err()
}

func (w *HubWorker) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

func (w *HubWorker) Name() string {
	return "hub"
}

// GenericWorker wraps any function as a supervised worker
type GenericWorker struct {
	name   string
	runFn  func(ctx context.Context) error
	stopFn func() error
	logger *slog.Logger
}

// NewGenericWorker creates a worker from functions
func NewGenericWorker(name string, runFn func(ctx context.Context) error, stopFn func() error, logger *slog.Logger) *GenericWorker {
	return &GenericWorker{
		name:   name,
		runFn:  runFn,
		stopFn: stopFn,
		logger: logger.With("worker", name),
	}
}

func (w *GenericWorker) Start(ctx context.Context) error {
	w.logger.Info("GenericWorker starting")
	err := w.runFn(ctx)
	w.logger.Info("GenericWorker stopped", "error", err)
	return err
}

func (w *GenericWorker) Stop() error {
	if w.stopFn != nil {
		return w.stopFn()
	}
	return nil
}

func (w *GenericWorker) Name() string {
	return w.name
}
