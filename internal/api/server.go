// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the relay over HTTP: host lifecycle events, the
// companion websocket, the current record and operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/ManuGH/watchrelay/internal/api/middleware"
	"github.com/ManuGH/watchrelay/internal/health"
	"github.com/ManuGH/watchrelay/internal/host"
	"github.com/ManuGH/watchrelay/internal/relay"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay is the read side of the relay used by handlers. Events go through the
// dispatcher so they stay serial.
type Relay interface {
	Snapshot() relay.Snapshot
	ConfigurationURL() string
}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Relay      Relay
	Dispatcher host.EventDispatcher
	// Hub serves /ws. Nil disables the websocket route.
	Hub    http.Handler
	Health *health.Manager
}

// Config tunes the HTTP surface.
type Config struct {
	RateLimitRPM   int
	TracingService string
	// EventTimeout bounds how long an HTTP event waits for its handler.
	EventTimeout time.Duration
}

const (
	defaultEventTimeout = 10 * time.Second
	maxBodyBytes        = 64 << 10
)

// Server owns the chi router.
type Server struct {
	deps   Deps
	cfg    Config
	router chi.Router
}

// New builds the router.
func New(deps Deps, cfg Config) *Server {
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = defaultEventTimeout
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	s := &Server{deps: deps, cfg: cfg}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Probes and scrapes bypass rate limiting and tracing.
	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{EnableMetrics: true})
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
		r.Handle("/metrics", promhttp.Handler())
	})

	if s.deps.Hub != nil {
		r.Group(func(r chi.Router) {
			middleware.ApplyStack(r, middleware.StackConfig{
				EnableMetrics: true,
				EnableLogging: true,
				RateLimitRPM:  s.cfg.RateLimitRPM,
			})
			r.Handle("/ws", s.deps.Hub)
		})
	}

	r.Group(func(r chi.Router) {
		middleware.ApplyStack(r, middleware.StackConfig{
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			EnableLogging:         true,
			TracingService:        s.cfg.TracingService,
			RateLimitRPM:          s.cfg.RateLimitRPM,
		})
		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/events/ready", s.handleReady)
			r.Post("/events/show-configuration", s.handleShowConfiguration)
			r.Post("/events/webviewclosed", s.handleWebviewClosed)
			r.Get("/webview/close", s.handleWebviewCloseQuery)
			r.Get("/config", s.handleGetConfig)
			r.Get("/openapi.yaml", s.handleOpenAPI)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, CodeNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, CodeMethod, req.Method+" not allowed")
	})
	return r
}

// NewHTTPServer wraps h with the timeouts used by the daemon. WriteTimeout
// stays zero so websocket connections are not cut off.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
