// Package server exposes the companion over HTTP: text chat, agent status,
// proactive check-ins, session history and the live audio websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/live"
	"github.com/becomeliminal/nim-companion/router"
)

// LiveFactory builds a live session for one websocket connection.
type LiveFactory func(userID string, agentID core.AgentID, in <-chan []byte, out live.Output) *live.Session

// Server holds the HTTP handlers.
type Server struct {
	router   *router.Router
	newLive  LiveFactory
	origins  []string
	logger   *log.Logger
	upgrader websocket.Upgrader

	// base parents every live session; Shutdown cancels it.
	base     context.Context
	stop     context.CancelFunc
	sessions sync.WaitGroup
	mu       sync.Mutex
	closing  bool
}

// ErrShuttingDown is returned for live streams opened after Shutdown.
var ErrShuttingDown = errors.New("server is shutting down")

// Option configures a Server.
type Option func(*Server)

// WithLive enables the /api/live-stream websocket.
func WithLive(f LiveFactory) Option {
	return func(s *Server) {
		s.newLive = f
	}
}

// WithAllowedOrigins restricts websocket origins. Empty allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server.
func New(r *router.Router, opts ...Option) *Server {
	s := &Server{router: r}
	s.base, s.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default().WithPrefix("server")
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Shutdown cancels every running live session and waits for them to end or
// for ctx to expire. The HTTP listener itself is stopped by http.Server;
// hijacked websocket connections are not tracked there.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers a live session. It reports false once Shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/agents/status", s.handleStatus)
	mux.HandleFunc("POST /api/proactive/{user_id}", s.handleProactive)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	if s.newLive != nil {
		mux.HandleFunc("GET /api/live-stream", s.handleLive)
	}
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}
	writeJSON(w, http.StatusOK, s.router.Route(r.Context(), req))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.router.Status(r.Context())
	code := http.StatusOK
	if !report.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleProactive(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	resp, err := s.router.Proactive(r.Context(), userID)
	if err != nil {
		s.logger.Error("proactive check failed", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "proactive check failed")
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.router.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
