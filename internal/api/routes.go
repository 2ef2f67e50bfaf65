package api

import "net/http"

// Routes builds the full handler tree. Health, metrics scrape and the
// token exchange are public; everything else sits behind the JWT
// middleware (with the X-API-Key fallback it provides).
func (s *Server) Routes() http.Handler {
	protected := http.NewServeMux()

	// === Invocation Endpoints ===
	protected.HandleFunc("POST /api/invoke", s.handleInvoke)

	// === Process Endpoints ===
	protected.HandleFunc("GET /api/processes", s.handleListProcesses)
	protected.HandleFunc("GET /api/processes/{id}", s.handleGetProcess)
	protected.HandleFunc("DELETE /api/processes/{id}", s.handleCancelProcess)
	protected.HandleFunc("POST /api/processes/terminate", s.handleTerminate)
	protected.HandleFunc("GET /api/dashboard", s.handleDashboard)

	// === Cache Endpoints ===
	protected.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	protected.HandleFunc("POST /api/cache/clear", s.handleCacheClear)

	// === Error Telemetry Endpoints ===
	protected.HandleFunc("GET /api/errors", s.handleErrors)
	protected.HandleFunc("POST /api/errors/reset", s.handleErrorsReset)

	// === Tool Endpoints ===
	protected.HandleFunc("GET /api/tools", s.handleListTools)
	protected.HandleFunc("POST /api/tools/suggest", s.handleSuggest)
	protected.HandleFunc("POST /api/tools/optimize", s.handleOptimize)

	// === History Endpoint ===
	protected.HandleFunc("GET /api/history", s.handleHistory)

	// === Streams ===
	protected.HandleFunc("GET /api/ws/dashboard", s.handleDashboardStream)
	protected.HandleFunc("GET /api/ws/processes/{id}", s.handleProcessStream)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.HandleFunc("POST /api/auth/token", s.handleGetToken)
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics.Handler())
	}
	root.Handle("/api/", s.jwtManager.JWTMiddleware(protected))
	return root
}
