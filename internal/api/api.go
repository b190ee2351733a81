// Package api exposes the CareFlow HTTP surface.
//
// It provides RESTful endpoints for delivering user messages to the
// conversation orchestrator and for inspecting or deleting conversations.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BridgeWell/CareFlow/internal/models"
	"github.com/BridgeWell/CareFlow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// messageProcessor is the orchestration entry point the server depends on.
type messageProcessor interface {
	ProcessMessage(ctx context.Context, msg models.IncomingMessage) ([]string, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP handlers to the orchestrator and the store.
type Server struct {
	processor messageProcessor
	st        store.Store
	httpSrv   *http.Server
	addr      string
}

// NewServer creates the API server.
func NewServer(processor messageProcessor, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("api.NewServer: creating server", "addr", cfg.Addr, "hasProcessor", processor != nil, "hasStore", st != nil)

	s := &Server{processor: processor, st: st, addr: cfg.Addr}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations/{userID}/messages", s.messageHandler)
	mux.HandleFunc("GET /conversations/{userID}", s.getConversationHandler)
	mux.HandleFunc("DELETE /conversations/{userID}", s.deleteConversationHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Server.Run: listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("api.Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}
