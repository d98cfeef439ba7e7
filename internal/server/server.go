// Package server provides the HTTP API: turns, approvals, the audit trail,
// knowledge-base management, and operational endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeep-io/gatekeep/internal/approval"
	"github.com/gatekeep-io/gatekeep/internal/engine"
	"github.com/gatekeep-io/gatekeep/internal/ledger"
	"github.com/gatekeep-io/gatekeep/internal/otel"
	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/tools"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router        *chi.Mux
	engine        *engine.Engine
	store         *store.Store
	ledger        *ledger.Ledger
	approvals     *approval.Service
	registry      *tools.Registry
	env           tools.Env
	policy        *policy.Policy
	retentionDays int
	limiter       *userLimiter
	startTime     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRetentionDays sets the default audit retention window for purges.
func WithRetentionDays(days int) Option {
	return func(s *Server) { s.retentionDays = days }
}

// NewServer builds a Server with the required dependencies.
func NewServer(
	eng *engine.Engine,
	st *store.Store,
	lg *ledger.Ledger,
	appr *approval.Service,
	registry *tools.Registry,
	env tools.Env,
	pol *policy.Policy,
	opts ...Option,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		engine:        eng,
		store:         st,
		ledger:        lg,
		approvals:     appr,
		registry:      registry,
		env:           env,
		policy:        pol,
		retentionDays: 90,
		limiter:       newUserLimiter(),
		startTime:     time.Now(),
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
	r.Use(otel.Middleware())

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.rateLimitMiddleware)
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/turns", s.handleTurn)

		r.Get("/v1/approvals", s.handleApprovalsList)
		r.Post("/v1/approvals/{id}/approve", s.handleApprovalApprove)
		r.Post("/v1/approvals/{id}/deny", s.handleApprovalDeny)
		r.Post("/v1/approvals/{id}/execute", s.handleApprovalExecute)

		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/verify", s.handleAuditVerify)
		r.Post("/v1/audit/purge", s.handleAuditPurge)

		r.Get("/v1/kb/documents", s.handleKBList)
		r.Post("/v1/kb/documents", s.handleKBIngest)
		r.Post("/v1/kb/search", s.handleKBSearch)

		r.Get("/v1/todos", s.handleTodosList)
		r.Get("/v1/projects", s.handleProjectsList)
		r.Post("/v1/users", s.handleUserUpsert)

		r.Get("/v1/tools", s.handleToolsList)
		r.Get("/v1/metrics", s.handleMetrics)
		r.Get("/v1/status", s.handleStatus)
	})

	return r
}
