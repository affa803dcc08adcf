// Package api serves the ops HTTP surface: outbox and run administration,
// one-off and scheduled enqueue triggers, and the provider delivery
// webhooks.
package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the HTTP server with sane timeouts for a JSON API.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates a server around the given handler (see NewRouter).
func NewServer(handler http.Handler) *Server {
	return &Server{handler: handler}
}

// ListenAndServe starts serving on addr and blocks until shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}
