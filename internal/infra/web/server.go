package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"competitor-research/internal/infra/logging"
	"competitor-research/internal/usecase"
)

// Recoverer dispatches a resume signal for a stalled job. Satisfied by the
// recovery dispatcher.
type Recoverer interface {
	Recover(ctx context.Context, jobID string) error
}

// JobObserver is the slice of the polling observer the handlers need.
type JobObserver interface {
	Attach(ctx context.Context, jobID string)
	Snapshot(jobID string) (usecase.JobView, bool)
}

// ViewReader serves views cached by other replicas' observers. Satisfied by
// the redis view cache; nil skips the cache and reads the store directly.
type ViewReader interface {
	Get(ctx context.Context, jobID string) (usecase.JobView, bool, error)
}

type Server struct {
	jobUC     usecase.ResearchJobUseCase
	recoverer Recoverer
	observer  JobObserver
	views     ViewReader
	detector  *usecase.StallDetector
	auth      *AuthManager
	loginKey  string
	clock     usecase.Clock
	log       *zerolog.Logger
}

func NewServer(
	jobUC usecase.ResearchJobUseCase,
	recoverer Recoverer,
	observer JobObserver,
	views ViewReader,
	detector *usecase.StallDetector,
	auth *AuthManager,
	loginKey string,
	clock usecase.Clock,
	logger *zerolog.Logger,
) *Server {
	if clock == nil {
		clock = usecase.SystemClock()
	}
	return &Server{
		jobUC:     jobUC,
		recoverer: recoverer,
		observer:  observer,
		views:     views,
		detector:  detector,
		auth:      auth,
		loginKey:  loginKey,
		clock:     clock,
		log:       logger,
	}
}

// Routes builds the full router. /health and /metrics are open; the research
// API sits behind the session middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(traceContext)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/auth/login", s.handleLogin)
	r.Post("/api/v1/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		r.Post("/api/v1/research", s.handleCreate)
		r.Get("/api/v1/research/{id}", s.handleGet)
		r.Post("/api/v1/research/{id}/cancel", s.handleCancel)
		r.Post("/api/v1/research/{id}/recover", s.handleRecover)
		r.Get("/api/v1/workspaces/{id}/research/active", s.handleActive)
	})

	return r
}

// traceContext exposes chi's request id to the logging context so every log
// line written under this request carries trace_id.
func traceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			r = r.WithContext(logging.WithTraceID(r.Context(), reqID))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Key string `json:"key"`
}

// handleLogin exchanges the shared operator key for a short-lived session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.loginKey == "" {
		s.log.Error().Msg("operator key is not configured")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Key), []byte(s.loginKey)) != 1 {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	token, err := s.auth.Mint(w)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("session mint failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
