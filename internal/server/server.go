// Package server exposes a tutor session over HTTP and WebSocket: sensor
// ingestion, the session view, external lesson events, health and metrics.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/logging"
	"github.com/normanking/cortexlearn/internal/metrics"
	"github.com/normanking/cortexlearn/internal/tutor"
	"github.com/normanking/cortexlearn/internal/voice"
)

// Config configures the listener.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins for /ws/sense; empty allows any origin.
	AllowedOrigins []string
	// MetricsPath serves prometheus metrics; empty disables it.
	MetricsPath string
	Version     string
}

// LogSource supplies recent log lines for /api/v1/logs.
type LogSource interface {
	GetHistory(limit int) []logging.LogEntry
}

// Server represents the HTTP server
type Server struct {
	cfg        Config
	session    *tutor.Session
	logs       LogSource
	handler    http.Handler
	httpServer *http.Server
	startTime  time.Time
	log        zerolog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Session   string `json:"session"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// EventRequest is the body of POST /api/v1/session/events.
type EventRequest struct {
	Kind       string  `json:"kind"`
	Submission string  `json:"submission,omitempty"`
	Attention  float64 `json:"attention,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// VoiceRequest is the body of POST /api/v1/session/voice. Command wins
// over Transcript when both are set.
type VoiceRequest struct {
	Command    string `json:"command,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// New creates a server for session.
func New(cfg Config, session *tutor.Session, log zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		session:   session,
		startTime: time.Now(),
		log:       log.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws/sense", s.senseHandler)
	mux.HandleFunc("GET /api/v1/session", s.sessionHandler)
	mux.HandleFunc("GET /api/v1/session/audio", s.audioHandler)
	mux.HandleFunc("POST /api/v1/session/events", s.eventsHandler)
	mux.HandleFunc("POST /api/v1/session/voice", s.voiceHandler)
	mux.HandleFunc("POST /api/v1/session/pause", s.controlHandler(session.Pause))
	mux.HandleFunc("POST /api/v1/session/resume", s.controlHandler(session.Resume))
	mux.HandleFunc("POST /api/v1/session/reset", s.controlHandler(session.Reset))
	mux.HandleFunc("GET /api/v1/logs", s.logsHandler)
	if cfg.MetricsPath != "" {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	s.handler = instrument(mux)
	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     s.handler,
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// SetLogSource enables /api/v1/logs.
func (s *Server) SetLogSource(src LogSource) {
	s.logs = src
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.log.Info().Msg("HTTP server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"GET /health":                 "service health",
		"GET /ws/sense":               "sensor ingestion and live session updates",
		"GET /api/v1/session":         "current session view",
		"GET /api/v1/session/audio":   "audio of the segment being played",
		"POST /api/v1/session/events": "dispatch a lesson event",
		"POST /api/v1/session/voice":  "submit a voice command or transcript",
		"POST /api/v1/session/pause":  "pause playback",
		"POST /api/v1/session/resume": "resume playback",
		"POST /api/v1/session/reset":  "return the lesson to intro",
	}
	if s.cfg.MetricsPath != "" {
		endpoints["GET "+s.cfg.MetricsPath] = "prometheus metrics"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   "cortexlearn",
		"version":   s.cfg.Version,
		"lesson":    s.session.Lesson().ID,
		"endpoints": endpoints,
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   s.cfg.Version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Session:   s.session.ID(),
		State:     string(s.session.Snapshot().State),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case <-s.session.Done():
		resp.Status = "closed"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	default:
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) audioHandler(w http.ResponseWriter, r *http.Request) {
	h := s.session.Snapshot().Playback.Audio
	if h == nil {
		writeError(w, http.StatusNotFound, errors.New("no audio for the current segment"))
		return
	}
	w.Header().Set("Content-Type", "audio/"+h.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(h.Audio)))
	w.Header().Set("X-Segment", h.Key.String())
	w.WriteHeader(http.StatusOK)
	w.Write(h.Audio)
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotFound, errors.New("log history not available"))
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": s.logs.GetHistory(limit)})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	ev, err := buildEvent(req, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.session.Dispatch(ev); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.Snapshot())
}

func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	var req VoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	var (
		cmd voice.Command
		err error
	)
	switch {
	case req.Command != "":
		cmd, err = voice.Parse(req.Command)
		if err == nil {
			err = s.session.Voice(cmd)
		}
	case req.Transcript != "":
		cmd, err = s.session.Transcript(req.Transcript)
	default:
		err = errors.New("command or transcript required")
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"command": string(cmd)})
}

func (s *Server) controlHandler(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, s.session.Snapshot())
	}
}

// buildEvent turns a request into a lesson event stamped at now.
func buildEvent(req EventRequest, now time.Time) (lesson.Event, error) {
	kind := lesson.EventKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	switch kind {
	case lesson.KindSubmitted:
		return lesson.Submitted{Time: now, Submission: req.Submission}, nil
	case lesson.KindDistraction:
		return lesson.Distraction{Time: now, Attention: req.Attention}, nil
	case lesson.KindTimeout:
		return lesson.Timeout{Time: now, Phase: lesson.State(req.Phase)}, nil
	case lesson.KindConfusion:
		return lesson.Confusion{Time: now, Source: req.Source}, nil
	case lesson.KindSkip:
		return lesson.Skip{Time: now, Source: req.Source}, nil
	}
	ev, ok := lesson.NewEvent(kind, now)
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", req.Kind)
	}
	return ev, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tutor.ErrClosed), errors.Is(err, tutor.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, voice.ErrUnknownCommand):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes WebSocket upgrades through to the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument counts requests by route pattern and status.
func instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pattern := next.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RequestCount.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}
