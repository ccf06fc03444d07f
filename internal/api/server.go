// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the classd HTTP interface: the classroom resource,
// probes and the metrics scrape endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/classd/internal/api/middleware"
	"github.com/ManuGH/classd/internal/auth"
	"github.com/ManuGH/classd/internal/domain/classroom/manager"
	"github.com/ManuGH/classd/internal/domain/classroom/model"
	"github.com/ManuGH/classd/internal/domain/classroom/store"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClassroomService is the slice of the orchestrator the API drives.
type ClassroomService interface {
	RequestCreate(ctx context.Context, kind model.Kind, window model.Window, opts ...manager.CreateOption) (string, error)
	RequestUpdate(ctx context.Context, id string, window model.Window) error
	RequestClose(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Classroom, error)
	GetByScope(ctx context.Context, audience, scope string) (*model.Classroom, error)
	List(ctx context.Context, filter store.ClassroomFilter) ([]*model.Classroom, error)
	Pending(ctx context.Context, id string) ([]*model.Correlation, error)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// Probes serves the liveness and readiness endpoints.
type Probes interface {
	ServeHealth(w http.ResponseWriter, r *http.Request)
	ServeReady(w http.ResponseWriter, r *http.Request)
}

// Config tunes the HTTP surface.
type Config struct {
	MaxBodyBytes int64
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
	// TracingService enables otelhttp when set.
	TracingService string
	// DefaultListLimit caps list responses without an explicit limit.
	DefaultListLimit int
}

// Deps are the collaborators of the server. Verifier may be nil, in which
// case every request runs as the anonymous principal.
type Deps struct {
	Classrooms ClassroomService
	Verifier   TokenVerifier
	Authorizer auth.Authorizer
	Probes     Probes
}

// Server is the HTTP API.
type Server struct {
	cfg        Config
	classrooms ClassroomService
	verifier   TokenVerifier
	authorizer auth.Authorizer
	probes     Probes
}

// New builds a server. A nil Authorizer admits every authenticated caller.
func New(cfg Config, deps Deps) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 100
	}
	authz := deps.Authorizer
	if authz == nil {
		authz = auth.AllowAll{}
	}
	return &Server{
		cfg:        cfg,
		classrooms: deps.Classrooms,
		verifier:   deps.Verifier,
		authorizer: authz,
		probes:     deps.Probes,
	}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		TracingService: s.cfg.TracingService,
		EnableMetrics:  true,
		EnableLogging:  true,
		RateLimit:      s.cfg.RateLimit,
		RateWindow:     time.Minute,
	})

	if s.probes != nil {
		r.Get("/healthz", s.probes.ServeHealth)
		r.Get("/readyz", s.probes.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/classrooms", s.handleCreate)
		r.Get("/classrooms", s.handleList)
		r.Get("/classrooms/{id}", s.handleGet)
		r.Put("/classrooms/{id}", s.handleUpdate)
		r.Post("/classrooms/{id}/close", s.handleClose)
		r.Get("/audiences/{audience}/classrooms/{scope}", s.handleGetByScope)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, "system/not_found", "ROUTE_NOT_FOUND", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "system/method_not_allowed", "METHOD_NOT_ALLOWED", "")
	})
	return r
}
