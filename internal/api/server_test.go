//go:build !windows

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/havij13/Hexstrike-AI-sub001/internal/auth"
	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/engine"
	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/executor"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/selector"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	catalog := tools.NewCatalog()
	catalog.Register(&tools.Tool{
		Name:     "echo",
		Command:  "/bin/sh",
		BaseArgs: []string{"-c", `printf '%s' "$0"`},
		Category: tools.CategoryWeb,
		FlagMap:  map[string]string{"message": ""},
	})

	reg := registry.New(registry.Config{MaxConcurrent: 2, MaxQueued: 2})
	stats := progress.NewDurationStats()
	tracker := progress.NewTracker(stats)
	resultCache := cache.New(cache.Config{MaxBytes: 1 << 20, TTL: time.Minute})
	errs := errstats.New(0)
	sup := executor.New(executor.Config{Registry: reg, Tracker: tracker})
	eng := engine.New(engine.Config{
		Catalog:    catalog,
		Cache:      resultCache,
		Registry:   reg,
		Supervisor: sup,
		Tracker:    tracker,
		Errors:     errs,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		eng.Shutdown(ctx)
	})

	srv := NewServer(Config{
		Engine:          eng,
		Registry:        reg,
		Cache:           resultCache,
		Errors:          errs,
		Catalog:         catalog,
		Selector:        selector.New(catalog, errs, stats),
		JWTManager:      auth.NewJWTManager("test-secret", testAPIKey, time.Hour),
		BootstrapAPIKey: testAPIKey,
		Version:         "test",
	})

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url string, body any, auth bool) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if auth {
		req.Header.Set("X-API-Key", testAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestServer_HealthIsPublic(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/health", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestServer_ProtectedEndpointsRequireAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/processes", nil, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/processes", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("API-key status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_TokenExchange(t *testing.T) {
	_, ts := newTestServer(t)

	// Without the bootstrap key the exchange is refused.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/token",
		map[string]string{"client_id": "cli"}, false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("keyless token status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/token",
		map[string]string{"client_id": "cli"}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["token"] == "" {
		t.Fatal("token exchange returned empty token")
	}

	// The issued token authorizes a protected endpoint.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/cache/stats", nil)
	req.Header.Set("Authorization", "Bearer "+body["token"])
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized request: %v", err)
	}
	defer authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("bearer status = %d, want 200", authed.StatusCode)
	}
}

func TestServer_InvokeWaitReturnsResult(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/invoke", invokeRequest{
		Tool:       "echo",
		Parameters: map[string]any{"message": "api-output"},
		Wait:       true,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res engine.Result
	decodeBody(t, resp, &res)
	if !res.Success {
		t.Fatalf("Success = false (error %s)", res.Error)
	}
	if !strings.Contains(res.Output, "api-output") {
		t.Errorf("Output = %q, want it to contain %q", res.Output, "api-output")
	}
}

func TestServer_InvokeUnknownTool(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/invoke",
		invokeRequest{Tool: "no-such-tool-zz"}, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_InvokePollFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/invoke", invokeRequest{
		Tool:       "echo",
		Parameters: map[string]any{"message": "poll-me"},
		NoCache:    true,
	}, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}
	var sub map[string]string
	decodeBody(t, resp, &sub)
	if sub["id"] == "" {
		t.Fatal("submit returned no handle")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		poll := doJSON(t, http.MethodGet, ts.URL+"/api/processes/"+sub["id"], nil, true)
		if poll.StatusCode != http.StatusOK {
			t.Fatalf("poll status = %d, want 200", poll.StatusCode)
		}
		var view registry.RecordView
		decodeBody(t, poll, &view)
		if view.Status.Terminal() {
			if view.Status != registry.StatusCompleted {
				t.Fatalf("terminal status = %q, want completed", view.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("invocation never finished, last status %q", view.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServer_CacheClear(t *testing.T) {
	_, ts := newTestServer(t)

	// Populate the cache with one completed run.
	doJSON(t, http.MethodPost, ts.URL+"/api/invoke", invokeRequest{
		Tool:       "echo",
		Parameters: map[string]any{"message": "cached"},
		Wait:       true,
	}, true)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/cache/clear", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["cleared_entries"] != 1 {
		t.Errorf("cleared_entries = %d, want 1", body["cleared_entries"])
	}
}

func TestServer_Suggest(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/tools/suggest", map[string]any{
		"profile": selector.TargetProfile{
			Target:     "example.com",
			TargetType: "web",
			RiskLevel:  "low",
			Confidence: 0.5,
		},
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Suggestions []selector.ToolSelection `json:"suggestions"`
		Count       int                      `json:"count"`
	}
	decodeBody(t, resp, &body)
	if body.Count == 0 || len(body.Suggestions) == 0 {
		t.Fatal("no suggestions for a web target")
	}
}

func TestServer_TerminateUnknownPID(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/processes/terminate",
		map[string]int{"pid": 999999}, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_DashboardStream(t *testing.T) {
	srv, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/dashboard"
	header := http.Header{"X-API-Key": []string{testAPIKey}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var snapshot registry.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("snapshot frame is not valid JSON: %v", err)
	}
	if snapshot.Timestamp.IsZero() {
		t.Error("snapshot frame carries zero timestamp")
	}
}

func TestServer_StoppedHubReleasesSubscribers(t *testing.T) {
	srv, ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(hubDone)
	}()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/dashboard"
	header := http.Header{"X-API-Key": []string{testAPIKey}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Stopping the hub must release the connected subscriber instead of
	// leaving its pumps parked on the hub channels.
	cancel()
	<-hubDone
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// A connection arriving after the stop is dropped, not blocked.
	late, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("expected the stopped hub to drop the late subscriber")
	}
}

func TestServer_ProcessStream(t *testing.T) {
	_, ts := newTestServer(t)

	// Complete a run first; the tail endpoint then delivers the terminal
	// frame immediately and closes.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/invoke", invokeRequest{
		Tool:       "echo",
		Parameters: map[string]any{"message": "tail-me"},
		Wait:       true,
	}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke status = %d, want 200", resp.StatusCode)
	}
	var res engine.Result
	decodeBody(t, resp, &res)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/processes/" + res.ID
	header := http.Header{"X-API-Key": []string{testAPIKey}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var view registry.RecordView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if view.ID != res.ID {
		t.Errorf("frame ID = %q, want %q", view.ID, res.ID)
	}
	if !view.Status.Terminal() {
		t.Errorf("Status = %q, want terminal", view.Status)
	}

	// The stream closes normally after the terminal frame.
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected stream to close after terminal frame")
	}
}

func TestServer_ProcessStreamUnknownID(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/ws/processes/no-such-id", nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
