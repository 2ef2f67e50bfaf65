// Package api provides the REST and WebSocket surface of the daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/engine"
	"github.com/havij13/Hexstrike-AI-sub001/internal/selector"
)

// invokeRequest is the wire shape of an invocation request. Timeout is
// expressed in seconds.
type invokeRequest struct {
	Tool          string         `json:"tool"`
	Target        string         `json:"target"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Timeout       float64        `json:"timeout,omitempty"`
	NoCache       bool           `json:"no_cache,omitempty"`
	CacheFailures bool           `json:"cache_failures,omitempty"`

	// Wait makes the call block until the terminal result instead of
	// returning a handle to poll.
	Wait bool `json:"wait,omitempty"`
}

// handleInvoke submits an invocation: a cache hit answers immediately,
// otherwise the response is either a poll handle or, with wait set, the
// terminal result.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool required"})
		return
	}

	sub, err := s.engine.Submit(engine.Request{
		Tool:          req.Tool,
		Target:        req.Target,
		Parameters:    req.Parameters,
		Timeout:       time.Duration(req.Timeout * float64(time.Second)),
		NoCache:       req.NoCache,
		CacheFailures: req.CacheFailures,
	})
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) && engErr.Kind == engine.KindUnknownTool {
			writeJSON(w, http.StatusNotFound, engErr)
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	if sub.Cached != nil {
		writeJSON(w, http.StatusOK, sub.Cached)
		return
	}
	if !req.Wait {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": sub.ID})
		return
	}

	res, err := s.engine.Await(r.Context(), sub.ID)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleListProcesses returns snapshots of all retained records.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	list := s.reg.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"processes": list,
		"count":     len(list),
	})
}

// handleGetProcess returns one record snapshot.
func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, ok := s.reg.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "process not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancelProcess cancels a queued or running invocation by ID.
func (s *Server) handleCancelProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Cancel(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}

// handleTerminate terminates a running invocation by PID.
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PID int `json:"pid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pid required"})
		return
	}
	if err := s.reg.Terminate(req.PID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"terminated": req.PID})
}

// handleDashboard returns the aggregate view all monitoring reads from.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.DashboardSnapshot())
}

// handleCacheStats reports cache counters.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleCacheClear drops every cache entry.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.cache.Clear()
	s.logger.Info("Cache cleared", "entries", cleared)
	writeJSON(w, http.StatusOK, map[string]int{"cleared_entries": cleared})
}

// handleErrors reports aggregated failure statistics.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.errs.Stats())
}

// handleErrorsReset zeroes the aggregated counters.
func (s *Server) handleErrorsReset(w http.ResponseWriter, r *http.Request) {
	s.errs.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleListTools returns the catalog.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	names := s.catalog.List()
	tools := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t, ok := s.catalog.Get(name)
		if !ok {
			continue
		}
		tools = append(tools, map[string]any{
			"name":     t.Name,
			"command":  t.Command,
			"category": string(t.Category),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools, "count": len(tools)})
}

// handleSuggest ranks tools for an externally produced target profile.
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile   selector.TargetProfile `json:"profile"`
		Objective string                 `json:"objective,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Profile.Target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "profile.target required"})
		return
	}

	suggestions := s.selector.Select(req.Profile, req.Objective)
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

// handleOptimize proposes parameter overrides for one tool.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile selector.TargetProfile `json:"profile"`
		Tool    string                 `json:"tool"`
		Context map[string]any         `json:"context,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool required"})
		return
	}
	params := s.selector.OptimizeParameters(req.Profile, req.Tool, req.Context)
	writeJSON(w, http.StatusOK, map[string]any{"tool": req.Tool, "parameters": params})
}

// handleHistory returns recent persisted runs.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.hist.RecentRuns(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to read run history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleHealth is the unauthenticated liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.reg.DashboardSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"running":       snapshot.Running,
		"queued":        snapshot.Queued,
		"total_tracked": snapshot.TotalProcesses,
	})
}
