// Copyright 2025 Kadir Pekel
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

// Package transport serves the HTTP API: chat turns, conversation history,
// the tool catalog and resources, health, metrics and the MCP endpoint.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/coordinator"
	"github.com/kadirpekel/finrag/pkg/observability"
	"github.com/kadirpekel/finrag/pkg/ratelimit"
)

// Chat runs conversation turns.
type Chat interface {
	ProcessQuery(ctx context.Context, query, conversationID string) (*coordinator.Response, error)
	GetConversationHistory(ctx context.Context, id string) ([]coordinator.Message, error)
	ClearConversationHistory(ctx context.Context, id string) error
}

// Tools exposes the tool catalog and resources.
type Tools interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	ReadResource(ctx context.Context, uri string) (any, error)
}

// Server is the finrag HTTP server.
type Server struct {
	cfg     config.ServerConfig
	chat    Chat
	tools   Tools
	mcp     http.Handler
	metrics http.Handler
	limit   func(http.Handler) http.Handler
	version string

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithTools mounts the /v1/tools and /v1/resources routes.
func WithTools(t Tools) Option {
	return func(s *Server) { s.tools = t }
}

// WithMCPHandler mounts the streamable MCP server at the configured path.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRateLimit caps /v1 requests per caller.
func WithRateLimit(l ratelimit.Allower) Option {
	return func(s *Server) { s.limit = ratelimit.Middleware(l) }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func New(cfg config.ServerConfig, chat Chat, opts ...Option) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, chat: chat}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: request id -> real ip -> recover -> metrics -> logging -> cors
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(routePattern))
	r.Use(loggingMiddleware)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.CORSOrigins))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.limit != nil {
			r.Use(s.limit)
		}
		r.Post("/chat", s.handleChat)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)

		if s.tools != nil {
			r.Get("/tools", s.handleListTools)
			r.Post("/tools/{name}", s.handleCallTool)
			r.Get("/resources", s.handleResources)
		}
	})

	if s.mcp != nil && s.cfg.MCPEnabled() {
		r.Handle(s.cfg.MCPPath, s.mcp)
		r.Handle(s.cfg.MCPPath+"/*", s.mcp)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", s.cfg.Address, "mcp", s.mcp != nil && s.cfg.MCPEnabled())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	slog.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}
