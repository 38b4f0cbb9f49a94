// Package api hosts the read-only HTTP surface for operator access.
// Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /status for the watcher state snapshot.
//   - GET /metrics for Prometheus scraping.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkozyrev/smswatch/internal/metrics"
	"github.com/dkozyrev/smswatch/internal/watch"
)

// PollStats is the freshness surface the status handler reads.
type PollStats interface {
	PollCount() int64
	LastSuccessfulPoll() time.Time
}

// Ledger reports how many fingerprints are tracked.
type Ledger interface {
	Size() int
}

// Server wires the status snapshot to HTTP handlers. It only reads
// daemon state, so it never contends with the polling pipeline.
type Server struct {
	router    chi.Router
	session   watch.Session
	stats     PollStats
	ledger    Ledger
	channels  int
	staleness time.Duration
	clock     watch.Clock
	started   time.Time
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(session watch.Session, stats PollStats, ledger Ledger, channels int, staleness time.Duration, clock watch.Clock, logger *zap.Logger) *Server {
	if staleness <= 0 {
		staleness = watch.StalenessDefault
	}
	s := &Server{
		session:   session,
		stats:     stats,
		ledger:    ledger,
		channels:  channels,
		staleness: staleness,
		clock:     clock,
		started:   clock.Now(),
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.snapshot())
}

// snapshot assembles the status document. Degradation has two causes:
// an exhausted session and stale polls; either alone flips the flag.
func (s *Server) snapshot() watch.Status {
	now := s.clock.Now()
	last := s.stats.LastSuccessfulPoll()

	st := watch.Status{
		Status:          watch.StatusHealthy,
		Uptime:          now.Sub(s.started).Round(time.Second).String(),
		MessagesTracked: s.ledger.Size(),
		SessionActive:   s.session.State() == watch.SessionActive,
		ActiveChannels:  s.channels,
		PollCount:       s.stats.PollCount(),
	}

	if last.IsZero() {
		st.LastSuccessfulPoll = "never"
		st.TimeSinceLastPoll = "n/a"
	} else {
		since := now.Sub(last)
		st.LastSuccessfulPoll = last.UTC().Format(time.RFC3339)
		st.TimeSinceLastPoll = since.Round(time.Second).String()
		if since > s.staleness {
			st.Status = watch.StatusDegraded
		}
	}
	if s.session.State() == watch.SessionDegraded {
		st.Status = watch.StatusDegraded
	}
	return st
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
