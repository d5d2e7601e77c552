// Package api exposes the tool process manager over HTTP: refresh,
// status, and diagnostic log streaming.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
	"github.com/amadeuslabs/toolproxyd/internal/security"
)

// Service is the manager surface the API depends on.
type Service interface {
	Refresh(ctx context.Context) (*manager.RefreshResult, error)
	StatusSnapshot() []manager.StatusView
}

// Server is the HTTP API server.
type Server struct {
	port       int
	svc        Service
	hub        *manager.LogHub
	jwtSecret  []byte
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates an API server. A nil jwtSecret disables
// authentication (dev mode).
func NewServer(port int, svc Service, hub *manager.LogHub, jwtSecret []byte, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:      port,
		svc:       svc,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    logger.With("component", "api"),
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port, "auth", s.jwtSecret != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler builds the route table. Exposed separately for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/tools/status", s.handleStatus)
	mux.HandleFunc("/api/tools/logs", s.handleLogs)
	mux.HandleFunc("/api/tools/refresh", s.requireAuth(s.handleRefresh))
	mux.HandleFunc("/ws/logs", s.handleLogsWS)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRefresh triggers one reconciliation pass. Per-tool failures are
// reported inside the result body; only an unavailable config store is
// a whole-call error.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	res, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.logger.Error("refresh failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": s.svc.StatusSnapshot(),
	})
}

// handleLogs returns the most recent captured process output lines.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	n := 100
	if v := r.URL.Query().Get("n"); v != "" {
		fmt.Sscanf(v, "%d", &n)
	}
	lines := s.hub.Recent(n)
	if tool := r.URL.Query().Get("tool"); tool != "" {
		filtered := make([]manager.LogLine, 0, len(lines))
		for _, l := range lines {
			if l.Tool == tool {
				filtered = append(filtered, l)
			}
		}
		lines = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

// requireAuth validates a Bearer token on mutating routes. With no
// secret configured all requests pass (dev mode).
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.jwtSecret == nil {
			s.logger.Warn("JWT auth disabled (dev mode): accepting unauthenticated request", "path", r.URL.Path)
			next(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		if _, err := security.ValidateToken(parts[1], s.jwtSecret); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r)
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
