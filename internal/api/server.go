/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/loader"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
)

// Version is the service version (set at build time)
var Version = "dev"

// Server is the admin REST API server
type Server struct {
	handlers       *Handlers
	controllerRole bool
	port           int
	log            logr.Logger
	server         *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Store    store.Store
	Queue    queue.Queue
	Registry *registry.Registry
	Loader   *loader.Loader
	Eval     *croneval.Evaluator

	// Controller and Executor report component diagnostics. A nil Controller
	// also hides the administrative routes: only the controller role accepts
	// mutations.
	Controller DiagnosticsFunc
	Executor   DiagnosticsFunc

	Port int
	Log  logr.Logger
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	port := opts.Port
	if port == 0 {
		port = 8000
	}

	return &Server{
		handlers: NewHandlers(
			opts.Store,
			opts.Queue,
			opts.Registry,
			opts.Loader,
			opts.Eval,
			opts.Controller,
			opts.Executor,
			opts.Log,
		),
		controllerRole: opts.Controller != nil,
		port:           port,
		log:            opts.Log,
	}
}

// Start starts the API server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.log.Info("starting API server", "port", s.port, "controller_routes", s.controllerRole)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "API server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.log.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// routes sets up the HTTP routes
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", s.handlers.GetStatus)
	r.Get("/status", s.handlers.GetStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.controllerRole {
		r.Route("/monitor", func(r chi.Router) {
			r.Get("/list", s.handlers.ListMonitors)
			r.Get("/{name}", s.handlers.GetMonitor)
			r.Post("/validate", s.handlers.ValidateMonitor)
			r.Post("/register/{name}", s.handlers.RegisterMonitor)
			r.Post("/{name}/enable", s.handlers.EnableMonitor)
			r.Post("/{name}/disable", s.handlers.DisableMonitor)
		})

		r.Route("/alert/{id}", func(r chi.Router) {
			r.Post("/acknowledge", s.handlers.AcknowledgeAlert)
			r.Post("/lock", s.handlers.LockAlert)
			r.Post("/unlock", s.handlers.UnlockAlert)
			r.Post("/solve", s.handlers.SolveAlert)
		})

		r.Post("/issue/{id}/drop", s.handlers.DropIssue)
	}

	return r
}
