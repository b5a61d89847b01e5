// Package server provides the HTTP API for submitting advice requests and
// reading the audit trail.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cordon-io/cordon/internal/audit"
	cordonotel "github.com/cordon-io/cordon/internal/otel"
	"github.com/cordon-io/cordon/internal/pipeline"
)

const defaultTimeout = 60 * time.Second

// Server holds the dependencies of the HTTP API.
type Server struct {
	router      *chi.Mux
	orch        *pipeline.Orchestrator
	auditStore  *audit.Store
	apiKeys     map[string]string
	rateLimiter *RateLimiter
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter sets request rate limiting.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.rateLimiter = rl }
}

// NewServer builds a Server. apiKeys maps key -> caller name.
func NewServer(orch *pipeline.Orchestrator, auditStore *audit.Store, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		orch:       orch,
		auditStore: auditStore,
		apiKeys:    apiKeys,
		startTime:  time.Now(),
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cordonotel.Middleware())

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.rateLimiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/advice", s.handleAdvice)
		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/{id}", s.handleAuditGet)
		r.Get("/v1/audit/{id}/verify", s.handleAuditVerify)
	})

	return r
}
