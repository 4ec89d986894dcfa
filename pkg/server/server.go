// Copyright 2026 The Praetor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the orchestrator over HTTP: a JSON REST surface,
// an SSE stream per execution and a websocket firehose.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/praetor-ai/praetor/pkg/brain"
	"github.com/praetor-ai/praetor/pkg/config"
	"github.com/praetor-ai/praetor/pkg/executor"
	"github.com/praetor-ai/praetor/pkg/observability"
	"github.com/praetor-ai/praetor/pkg/session"
)

type Server struct {
	cfg      config.ServerConfig
	brain    *brain.Brain
	sessions *session.Store
	executor *executor.Executor
	version  string

	httpServer *http.Server
}

func New(cfg config.ServerConfig, b *brain.Brain, sessions *session.Store, exec *executor.Executor, version string) *Server {
	s := &Server{
		cfg:      cfg,
		brain:    b,
		sessions: sessions,
		executor: exec,
		version:  version,
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Address(),
		Handler: s.routes(),
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(observability.GetTracer("server"), observability.GetGlobalMetrics()))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/status", s.handleSessionStatus)
			r.Get("/history", s.handleSessionHistory)
			r.Get("/analytics", s.handleSessionAnalytics)
			r.Delete("/", s.handleDeleteSession)
		})
	})

	r.Post("/request/process", s.handleProcessRequest)

	r.Route("/command", func(r chi.Router) {
		r.Post("/execute", s.handleExecuteCommand)
		r.Route("/execution/{executionID}", func(r chi.Router) {
			r.Get("/", s.handleExecutionStatus)
			r.Post("/cancel", s.handleCancelExecution)
			r.Get("/events", s.handleExecutionEvents)
		})
	})

	r.Get("/stream", s.handleStream)

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.cfg.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Error: msg})
}

// statusForResponse maps an orchestrator response to an HTTP status. The
// code drives the mapping: a command response carrying a block verdict
// keeps its command shape but still answers 403.
func statusForResponse(resp *brain.Response) int {
	switch resp.Code {
	case "":
		return http.StatusOK
	case brain.CodeInputError:
		return http.StatusBadRequest
	case brain.CodeToolNotFound:
		return http.StatusNotFound
	case brain.CodeCompositionError:
		return http.StatusUnprocessableEntity
	case brain.CodeRiskBlock:
		return http.StatusForbidden
	case brain.CodeConfirmationRequired:
		return http.StatusConflict
	case brain.CodeLLMUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
