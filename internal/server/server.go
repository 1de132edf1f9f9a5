// Package server is the HTTP control surface of the assistant daemon: health
// probes, Prometheus metrics, session status and control, and a WebSocket
// feed of transcript, status and level events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
)

// writeTimeout bounds a single event write to a WebSocket subscriber.
const writeTimeout = 5 * time.Second

// Controller is the session surface the server drives.
// *assistant.Orchestrator satisfies it.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Snapshot() assistant.Status
}

var _ Controller = (*assistant.Orchestrator)(nil)

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithHealth registers the health handler's probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithObserveMetrics enables the tracing and latency middleware.
func WithObserveMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns sets the origins allowed to open the event feed from a
// browser. By default only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server routes HTTP requests to the session controller and the event hub.
type Server struct {
	ctrl           Controller
	hub            *Hub
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	originPatterns []string
	log            *slog.Logger

	router chi.Router
}

// New builds the router.
func New(ctrl Controller, hub *Hub, opts ...Option) *Server {
	s := &Server{
		ctrl: ctrl,
		hub:  hub,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if s.metrics != nil {
		r.Use(observe.Middleware(s.metrics))
	}

	if s.health != nil {
		s.health.Register(r)
	}
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/events", s.handleEvents)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleConnect starts a session. It returns once the remote side accepted
// the connection; the connected state follows on the event feed. The dial is
// detached from the request so a dropped client does not abort it.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.ctrl.Connect(context.WithoutCancel(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
	case errors.Is(err, assistant.ErrAlreadyActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, assistant.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("server: connect failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disconnect(); err != nil {
		observe.Logger(r.Context()).Warn("server: disconnect", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleEvents upgrades to a WebSocket and streams hub events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.log.Debug("server: websocket accept", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx when the client closes.
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	log := observe.Logger(r.Context())
	log.Debug("server: event subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-events:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug("server: event subscriber gone", "err", err)
				return
			}
		}
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
