// Package engine ties the catalog, cache, registry, supervisor and
// telemetry together into the invocation pipeline: fingerprint the
// request, serve it from cache when possible, otherwise admit it,
// run the tool and publish the terminal result everywhere it belongs.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/executor"
	"github.com/havij13/Hexstrike-AI-sub001/internal/fingerprint"
	"github.com/havij13/Hexstrike-AI-sub001/internal/history"
	"github.com/havij13/Hexstrike-AI-sub001/internal/metrics"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// Error kinds surfaced synchronously, before a subprocess exists.
const (
	KindUnknownTool       = "unknown_tool"
	KindAdmissionRejected = "admission_rejected"
	KindShuttingDown      = "shutting_down"
)

// Error is a typed engine failure carrying a programmatic kind next to
// the human-readable message.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// Request is one immutable invocation request.
type Request struct {
	Tool       string         `json:"tool"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`

	// NoCache marks the request as carrying only-this-run randomness;
	// the fingerprint becomes a sentinel that always misses.
	NoCache bool `json:"no_cache,omitempty"`

	// CacheFailures opts a clean-but-nonzero exit into the cache, for
	// tools whose nonzero exit means "ran fine, found nothing".
	CacheFailures bool `json:"cache_failures,omitempty"`
}

// Result is the common envelope around every terminal outcome.
type Result struct {
	ID            string          `json:"id"`
	Tool          string          `json:"tool"`
	Status        registry.Status `json:"status"`
	Success       bool            `json:"success"`
	ExecutionTime float64         `json:"execution_time"`
	Output        string          `json:"output"`
	ExitCode      int             `json:"exit_code"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     errstats.Kind   `json:"error_kind,omitempty"`
	Cached        bool            `json:"cached"`
}

// Submission is the synchronous half of an invocation: either the cache
// already had the answer, or an ID to await/poll.
type Submission struct {
	ID     string  `json:"id"`
	Cached *Result `json:"cached,omitempty"`
}

// cachedPayload is the serialized form stored in the result cache.
type cachedPayload struct {
	ExecutionTime float64         `json:"execution_time"`
	Success       bool            `json:"success"`
	Output        string          `json:"output"`
	ExitCode      int             `json:"exit_code"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     errstats.Kind   `json:"error_kind,omitempty"`
	Status        registry.Status `json:"status"`
}

// Config holds engine construction parameters.
type Config struct {
	Catalog    *tools.Catalog
	Cache      *cache.Cache
	Registry   *registry.Registry
	Supervisor *executor.Supervisor
	Tracker    *progress.Tracker
	Errors     *errstats.Aggregator
	History    *history.Store   // optional
	Metrics    *metrics.Metrics // optional
	Logger     *slog.Logger

	DefaultTimeout  time.Duration
	MaxOutputBytes  int64
	ResultRetention time.Duration
}

// Engine is the invocation pipeline.
type Engine struct {
	catalog *tools.Catalog
	cache   *cache.Cache
	reg     *registry.Registry
	sup     *executor.Supervisor
	tracker *progress.Tracker
	errs    *errstats.Aggregator
	hist    *history.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	defaultTimeout  time.Duration
	maxOutputBytes  int64
	resultRetention time.Duration

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pendingRun
	closed  bool
}

type pendingRun struct {
	done        chan struct{}
	res         *Result
	deliveredAt time.Time
}

// New assembles an engine from its collaborators.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaultTimeout := cfg.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	retention := cfg.ResultRetention
	if retention <= 0 {
		retention = 15 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		catalog:         cfg.Catalog,
		cache:           cfg.Cache,
		reg:             cfg.Registry,
		sup:             cfg.Supervisor,
		tracker:         cfg.Tracker,
		errs:            cfg.Errors,
		hist:            cfg.History,
		metrics:         cfg.Metrics,
		logger:          logger.WithGroup("engine"),
		defaultTimeout:  defaultTimeout,
		maxOutputBytes:  maxOutput,
		resultRetention: retention,
		rootCtx:         ctx,
		cancel:          cancel,
		pending:         map[string]*pendingRun{},
	}
}

// Submit fingerprints the request and either answers from cache or
// starts a coordinating goroutine, returning an ID to await or poll.
func (e *Engine) Submit(req Request) (*Submission, error) {
	tool, ok := e.catalog.Resolve(req.Tool)
	if !ok {
		return nil, &Error{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool %q", req.Tool)}
	}

	params := e.effectiveParams(req)
	fp := e.fingerprintFor(tool, params, req.NoCache)

	if payload, hit := e.cache.Get(fp); hit {
		if res, ok := e.decodeCached(fp, payload); ok {
			res.Tool = tool.Name
			if e.metrics != nil {
				e.metrics.CacheHits.Inc()
			}
			e.logger.Debug("Cache hit", "tool", tool.Name, "fingerprint", fp)
			return &Submission{ID: res.ID, Cached: res}, nil
		}
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &Error{Kind: KindShuttingDown, Message: "engine is shutting down"}
	}
	id := uuid.NewString()
	run := &pendingRun{done: make(chan struct{})}
	e.pending[id] = run
	e.wg.Add(1)
	e.mu.Unlock()

	rec := &registry.ProcessRecord{
		ID:       id,
		Tool:     tool.Name,
		Category: tool.Category,
		Output:   registry.NewOutputBuffer(e.maxOutputBytes),
	}
	e.reg.Register(rec)

	// The cancel hook is installed before the ID is handed out, so a
	// still-queued invocation is cancellable from the moment Submit
	// returns.
	runCtx, runCancel := context.WithCancel(e.rootCtx)
	e.reg.SetCancel(id, runCancel)

	go e.coordinate(runCtx, runCancel, run, rec, tool, req, params, fp)

	return &Submission{ID: id}, nil
}

// Invoke is the blocking convenience path: submit, then await.
func (e *Engine) Invoke(ctx context.Context, req Request) (*Result, error) {
	sub, err := e.Submit(req)
	if err != nil {
		return nil, err
	}
	if sub.Cached != nil {
		return sub.Cached, nil
	}
	return e.Await(ctx, sub.ID)
}

// Await blocks until the invocation reaches a terminal state or ctx is
// done. The result stays retrievable for repeated Await calls until
// SweepDelivered removes it after the retention window.
func (e *Engine) Await(ctx context.Context, id string) (*Result, error) {
	e.mu.Lock()
	run, ok := e.pending[id]
	e.mu.Unlock()
	if !ok {
		return nil, &Error{Kind: "not_found", Message: fmt.Sprintf("no invocation %q", id)}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-run.done:
		return run.res, nil
	}
}

// Cancel terminates a queued or running invocation by ID.
func (e *Engine) Cancel(id string) error {
	return e.reg.CancelByID(id)
}

// SweepDelivered drops delivered results older than the retention
// window so the pending table stays bounded. Undelivered entries are
// never touched.
func (e *Engine) SweepDelivered() int {
	cutoff := time.Now().Add(-e.resultRetention)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, run := range e.pending {
		if !run.deliveredAt.IsZero() && run.deliveredAt.Before(cutoff) {
			delete(e.pending, id)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("Purged delivered results", "removed", removed)
	}
	return removed
}

// Shutdown stops accepting work, cancels all in-flight invocations and
// waits for their coordinators to finish or ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine drain: %w", ctx.Err())
	}
}

// coordinate owns one invocation from admission to delivery. Exactly one
// coordinator mutates each record, via registry methods.
func (e *Engine) coordinate(ctx context.Context, cancel context.CancelFunc, run *pendingRun, rec *registry.ProcessRecord, tool *tools.Tool, req Request, params map[string]any, fp fingerprint.Fingerprint) {
	defer e.wg.Done()
	defer cancel()

	if err := e.reg.Acquire(ctx, rec); err != nil {
		status := registry.StatusFailed
		kind := errstats.Kind(KindAdmissionRejected)
		msg := err.Error()
		switch {
		case e.rootCtx.Err() != nil:
			status = registry.StatusCancelled
			kind = errstats.Kind(KindShuttingDown)
		case ctx.Err() != nil:
			// Cancelled while still waiting for admission.
			status = registry.StatusCancelled
			kind = errstats.KindCancelled
			msg = "cancelled while queued"
		default:
			if e.metrics != nil {
				e.metrics.Rejections.Inc()
			}
		}
		e.reg.Finish(rec.ID, status, kind, msg)
		e.deliver(run, &Result{
			ID:        rec.ID,
			Tool:      tool.Name,
			Status:    status,
			Error:     msg,
			ErrorKind: kind,
		})
		return
	}
	defer e.reg.Release()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = tool.Timeout
	}
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	args := tool.BuildArgs(params)
	res := e.sup.Run(ctx, rec, tool, args, timeout)

	e.reg.Finish(rec.ID, res.Status, res.Kind, res.Summary)
	e.publish(rec, tool, req, fp, res)

	out := &Result{
		ID:            rec.ID,
		Tool:          tool.Name,
		Status:        res.Status,
		Success:       res.Status == registry.StatusCompleted,
		ExecutionTime: res.Duration.Seconds(),
		Output:        res.Output,
		ExitCode:      res.ExitCode,
		ErrorKind:     res.Kind,
	}
	if res.Status != registry.StatusCompleted {
		out.Error = res.Summary
	}
	e.deliver(run, out)
}

// publish fans the terminal result out to cache, error statistics,
// history and metrics. Cancelled and timed-out attempts never reach the
// cache; spawn failures never do either.
func (e *Engine) publish(rec *registry.ProcessRecord, tool *tools.Tool, req Request, fp fingerprint.Fingerprint, res executor.Result) {
	completed := res.Status == registry.StatusCompleted
	cacheable := completed ||
		(req.CacheFailures && res.Status == registry.StatusFailed && res.Kind == errstats.KindNonzeroExit)

	if cacheable && fp.Cacheable() {
		payload, err := json.Marshal(cachedPayload{
			ExecutionTime: res.Duration.Seconds(),
			Success:       completed,
			Output:        res.Output,
			ExitCode:      res.ExitCode,
			Error:         res.Summary,
			ErrorKind:     res.Kind,
			Status:        res.Status,
		})
		if err == nil {
			e.cache.Put(fp, payload)
		}
	}

	if completed {
		e.errs.RecordSuccess(tool.Name)
	} else {
		e.errs.Record(tool.Name, res.Kind, res.Summary)
	}

	if e.metrics != nil {
		e.metrics.Invocations.WithLabelValues(tool.Name, string(res.Status)).Inc()
		if completed {
			e.metrics.ScanDuration.WithLabelValues(tool.Name).Observe(res.Duration.Seconds())
		}
		e.metrics.CacheBytes.Set(float64(e.cache.Stats().Usage))
	}

	if e.hist != nil {
		err := e.hist.RecordRun(context.Background(), history.Run{
			RunID:       rec.ID,
			Tool:        tool.Name,
			Fingerprint: fp,
			Status:      res.Status,
			ErrorKind:   res.Kind,
			Duration:    res.Duration,
		})
		if err != nil {
			e.logger.Warn("Failed to persist run", "id", rec.ID, "error", err)
		}
	}
}

func (e *Engine) deliver(run *pendingRun, res *Result) {
	e.mu.Lock()
	run.res = res
	run.deliveredAt = time.Now()
	e.mu.Unlock()
	close(run.done)
}

// effectiveParams folds the target into the parameter map without
// mutating the caller's copy.
func (e *Engine) effectiveParams(req Request) map[string]any {
	params := make(map[string]any, len(req.Parameters)+1)
	for k, v := range req.Parameters {
		params[k] = v
	}
	if req.Target != "" {
		if _, exists := params["target"]; !exists {
			params["target"] = req.Target
		}
	}
	return params
}

func (e *Engine) fingerprintFor(tool *tools.Tool, params map[string]any, noCache bool) fingerprint.Fingerprint {
	if noCache {
		return fingerprint.Uncacheable()
	}
	for k := range params {
		if tool.VolatileParams[k] {
			return fingerprint.Uncacheable()
		}
	}
	return fingerprint.Compute(tool.Name, params, tool.SetParams)
}

// decodeCached turns a stored payload back into a hit envelope. A
// corrupt entry degrades to a miss and is dropped from the cache.
func (e *Engine) decodeCached(fp fingerprint.Fingerprint, payload []byte) (*Result, bool) {
	var p cachedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		e.logger.Warn("Dropping corrupt cache entry", "fingerprint", fp, "error", err)
		e.cache.Invalidate(fp)
		return nil, false
	}
	return &Result{
		ID:            uuid.NewString(),
		Status:        p.Status,
		Success:       p.Success,
		ExecutionTime: p.ExecutionTime,
		Output:        p.Output,
		ExitCode:      p.ExitCode,
		Error:         p.Error,
		ErrorKind:     p.ErrorKind,
		Cached:        true,
	}, true
}
