package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/havij13/Hexstrike-AI-sub001/internal/auth"
	"github.com/havij13/Hexstrike-AI-sub001/internal/cache"
	"github.com/havij13/Hexstrike-AI-sub001/internal/engine"
	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/history"
	"github.com/havij13/Hexstrike-AI-sub001/internal/metrics"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
	"github.com/havij13/Hexstrike-AI-sub001/internal/selector"
	"github.com/havij13/Hexstrike-AI-sub001/internal/tools"
)

// Server handles the REST and WebSocket API surface.
type Server struct {
	logger          *slog.Logger
	engine          *engine.Engine
	reg             *registry.Registry
	cache           *cache.Cache
	errs            *errstats.Aggregator
	catalog         *tools.Catalog
	selector        *selector.Selector
	hist            *history.Store   // optional
	metrics         *metrics.Metrics // optional
	jwtManager      *auth.JWTManager
	hub             *Hub
	bootstrapAPIKey string
	version         string
}

// Config holds API server construction parameters.
type Config struct {
	Logger          *slog.Logger
	Engine          *engine.Engine
	Registry        *registry.Registry
	Cache           *cache.Cache
	Errors          *errstats.Aggregator
	Catalog         *tools.Catalog
	Selector        *selector.Selector
	History         *history.Store
	Metrics         *metrics.Metrics
	JWTManager      *auth.JWTManager
	BootstrapAPIKey string
	Version         string
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.WithGroup("api")
	return &Server{
		logger:          logger,
		engine:          cfg.Engine,
		reg:             cfg.Registry,
		cache:           cfg.Cache,
		errs:            cfg.Errors,
		catalog:         cfg.Catalog,
		selector:        cfg.Selector,
		hist:            cfg.History,
		metrics:         cfg.Metrics,
		jwtManager:      cfg.JWTManager,
		hub:             newHub(cfg.Registry, logger),
		bootstrapAPIKey: cfg.BootstrapAPIKey,
		version:         cfg.Version,
	}
}

// Hub exposes the dashboard broadcast loop for the supervisor tree.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleGetToken exchanges the bootstrap API key for a JWT.
func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		s.logger.Warn("Token request rejected: missing X-API-Key header",
			"remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "X-API-Key header required"})
		return
	}
	if s.bootstrapAPIKey == "" || apiKey != s.bootstrapAPIKey {
		s.logger.Warn("Token request rejected: invalid API key",
			"remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid API key"})
		return
	}

	var req struct {
		ClientID    string   `json:"client_id"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.ClientID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "client_id required"})
		return
	}
	if req.Role == "" {
		req.Role = "operator"
	}

	token, err := s.jwtManager.GenerateToken(req.ClientID, req.Role, req.Permissions)
	if err != nil {
		s.logger.Error("Failed to generate token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to generate token"})
		return
	}

	s.logger.Info("JWT token generated", "client_id", req.ClientID, "role", req.Role)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
