// Package api exposes health, metrics and frame ingestion over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/runner"
	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/version"
	"github.com/rs/zerolog"
)

const maxFrameSize = 10 << 20

// Sessions is the part of the runner the API needs.
type Sessions interface {
	Active() []string
	HandleFrame(ctx context.Context, sessionID string, frame models.Frame) (models.Frame, error)
}

// Server provides HTTP API endpoints
type Server struct {
	sessions  Sessions
	metrics   http.Handler
	logger    zerolog.Logger
	startTime time.Time

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server
func NewServer(sessions Sessions, metrics http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		sessions:  sessions,
		metrics:   metrics,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	mux.HandleFunc("POST /sessions/{id}/frames", s.handleFrame)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Start serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info().Str("address", addr).Msg("starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"uptime":          time.Since(s.startTime).String(),
		"active_sessions": len(s.sessions.Active()),
		"version":         version.Version,
		"commit":          version.Commit,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.sessions.Active(),
	})
}

// handleFrame takes a JPEG body and returns the detections found in it.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty frame")
		return
	}
	if len(data) > maxFrameSize {
		writeError(w, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}

	frame := models.Frame{Data: data, Timestamp: time.Now()}
	if seq := r.URL.Query().Get("seq"); seq != "" {
		if frame.Seq, err = strconv.ParseUint(seq, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid seq")
			return
		}
	}

	out, err := s.sessions.HandleFrame(r.Context(), sessionID, frame)
	if errors.Is(err, runner.ErrUnknownSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("frame handling failed")
		writeError(w, http.StatusInternalServerError, "frame handling failed")
		return
	}

	detections := out.Detections
	if detections == nil {
		detections = []models.Detection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"seq":        out.Seq,
		"detections": detections,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
