// Package client is a thin REST client for the hexstriked daemon, used
// by the hexstrike CLI and embeddable by other Go programs.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client handles communication with the hexstriked daemon
type Client struct {
	BaseURL   string
	APIKey    string
	AuthToken string

	httpClient *http.Client
}

// InvokeRequest mirrors the wire shape of POST /api/invoke. Timeout is
// in seconds.
type InvokeRequest struct {
	Tool          string         `json:"tool"`
	Target        string         `json:"target"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Timeout       float64        `json:"timeout,omitempty"`
	NoCache       bool           `json:"no_cache,omitempty"`
	CacheFailures bool           `json:"cache_failures,omitempty"`
	Wait          bool           `json:"wait,omitempty"`
}

// Result is the terminal outcome of an invocation.
type Result struct {
	ID            string  `json:"id"`
	Tool          string  `json:"tool"`
	Status        string  `json:"status"`
	Success       bool    `json:"success"`
	ExecutionTime float64 `json:"execution_time"`
	Output        string  `json:"output"`
	ExitCode      int     `json:"exit_code"`
	Error         string  `json:"error,omitempty"`
	ErrorKind     string  `json:"error_kind,omitempty"`
	Cached        bool    `json:"cached"`
}

// Process is a registry record snapshot.
type Process struct {
	ID              string  `json:"id"`
	PID             int     `json:"pid"`
	Tool            string  `json:"tool"`
	Category        string  `json:"category"`
	Command         string  `json:"command"`
	Status          string  `json:"status"`
	Runtime         float64 `json:"runtime"`
	ProgressMode    string  `json:"progress_mode"`
	ProgressPercent float64 `json:"progress_percent"`
	ProgressBar     string  `json:"progress_bar"`
	ETA             float64 `json:"eta"`
	ETAKnown        bool    `json:"eta_known"`
	BytesProcessed  int64   `json:"bytes_processed"`
	LastOutput      string  `json:"last_output"`
	Error           string  `json:"error,omitempty"`
}

// Dashboard is the aggregate monitoring snapshot.
type Dashboard struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalProcesses int       `json:"total_processes"`
	Running        int       `json:"running"`
	Queued         int       `json:"queued"`
	Processes      []Process `json:"processes"`
	SystemLoad     float64   `json:"system_load"`
}

// CacheStats reports result cache counters.
type CacheStats struct {
	MaxBytes  int64   `json:"cache_size"`
	Usage     int64   `json:"cache_usage"`
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	MissRate  float64 `json:"miss_rate"`
	Evictions int64   `json:"evictions"`
}

// ErrorStats reports aggregated failure counters.
type ErrorStats struct {
	Total       int64            `json:"total_errors"`
	ByKind      map[string]int64 `json:"error_counts_by_type"`
	ByTool      map[string]int64 `json:"error_counts_by_tool"`
	RecentCount int              `json:"recent_errors_count"`
}

// ToolInfo is one catalog entry.
type ToolInfo struct {
	Name     string `json:"name"`
	Command  string `json:"command"`
	Category string `json:"category"`
}

// TargetProfile describes the target for tool suggestions.
type TargetProfile struct {
	Target          string   `json:"target"`
	TargetType      string   `json:"target_type"`
	RiskLevel       string   `json:"risk_level,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	Vulnerabilities []string `json:"vulnerabilities,omitempty"`
}

// Suggestion is one ranked tool recommendation.
type Suggestion struct {
	Tool       string         `json:"tool"`
	Category   string         `json:"category"`
	Score      float64        `json:"score"`
	Reason     string         `json:"reason"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Run is one persisted history row.
type Run struct {
	RunID       string        `json:"run_id"`
	Tool        string        `json:"tool"`
	Fingerprint string        `json:"fingerprint"`
	Status      string        `json:"status"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Health is the liveness probe response.
type Health struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Running      int    `json:"running"`
	Queued       int    `json:"queued"`
	TotalTracked int    `json:"total_tracked"`
}

// APIError is a non-2xx daemon response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

func New(baseURL, apiKey, authToken string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		AuthToken: authToken,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
			// Invocations can legitimately run for minutes; per-call
			// deadlines come from the caller's context.
			Timeout: 0,
		},
	}
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	} else if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
}

// do issues one JSON request and decodes the response into out when the
// status is 2xx. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			if payload.Error != "" {
				msg = payload.Error
			} else if payload.Message != "" {
				msg = payload.Message
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks daemon liveness. No authentication required.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Token exchanges the configured API key for a bearer token.
func (c *Client) Token(ctx context.Context, clientID string) (string, error) {
	body := map[string]string{"client_id": clientID}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/token", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Invoke runs a tool and blocks until the terminal result, which may be
// served from cache.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*Result, error) {
	req.Wait = true
	var res Result
	if err := c.do(ctx, http.MethodPost, "/api/invoke", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Submit starts an invocation and returns a handle ID to poll, or the
// cached result when the cache already had the answer.
func (c *Client) Submit(ctx context.Context, req InvokeRequest) (string, *Result, error) {
	req.Wait = false
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/invoke", req, &raw); err != nil {
		return "", nil, err
	}
	// A cached answer carries a status field, a handle only an id.
	var probe struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", nil, err
	}
	if probe.Status != "" {
		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			return "", nil, err
		}
		return res.ID, &res, nil
	}
	return probe.ID, nil, nil
}

// Processes lists all retained registry records.
func (c *Client) Processes(ctx context.Context) ([]Process, error) {
	var resp struct {
		Processes []Process `json:"processes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/processes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Processes, nil
}

// Process fetches one record by invocation ID.
func (c *Client) Process(ctx context.Context, id string) (*Process, error) {
	var p Process
	if err := c.do(ctx, http.MethodGet, "/api/processes/"+id, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Cancel cancels a queued or running invocation.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/processes/"+id, nil, nil)
}

// Terminate terminates a running invocation by PID.
func (c *Client) Terminate(ctx context.Context, pid int) error {
	return c.do(ctx, http.MethodPost, "/api/processes/terminate", map[string]int{"pid": pid}, nil)
}

// Dashboard fetches the aggregate monitoring snapshot.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// CacheStats reads the result cache counters.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	var s CacheStats
	if err := c.do(ctx, http.MethodGet, "/api/cache/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CacheClear drops the whole result cache and reports how many entries
// were removed.
func (c *Client) CacheClear(ctx context.Context) (int, error) {
	var resp struct {
		Cleared int `json:"cleared_entries"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/cache/clear", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cleared, nil
}

// Errors reads the aggregated failure statistics.
func (c *Client) Errors(ctx context.Context) (*ErrorStats, error) {
	var s ErrorStats
	if err := c.do(ctx, http.MethodGet, "/api/errors", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ErrorsReset zeroes the failure counters.
func (c *Client) ErrorsReset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/errors/reset", nil, nil)
}

// Tools lists the wrapped tool catalog.
func (c *Client) Tools(ctx context.Context) ([]ToolInfo, error) {
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tools", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Suggest ranks catalog tools against a target profile.
func (c *Client) Suggest(ctx context.Context, profile TargetProfile, objective string) ([]Suggestion, error) {
	body := map[string]any{"profile": profile}
	if objective != "" {
		body["objective"] = objective
	}
	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tools/suggest", body, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// Optimize proposes parameter overrides for one tool.
func (c *Client) Optimize(ctx context.Context, profile TargetProfile, tool string, extra map[string]any) (map[string]any, error) {
	body := map[string]any{"profile": profile, "tool": tool}
	if len(extra) > 0 {
		body["context"] = extra
	}
	var resp struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tools/optimize", body, &resp); err != nil {
		return nil, err
	}
	return resp.Parameters, nil
}

// History reads the most recent persisted runs.
func (c *Client) History(ctx context.Context, limit int) ([]Run, error) {
	path := "/api/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}
