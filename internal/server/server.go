// Package server runs an http.Handler until its context is cancelled and then
// shuts it down gracefully.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"
)

// Server owns the listener and the http.Server for one handler.
type Server struct {
	httpServer      *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// Listen binds addr immediately so that an unavailable port is reported at
// startup rather than from Run.
func Listen(addr string, handler http.Handler, shutdownTimeout time.Duration) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          log.Default(),
		},
		listener:        ln,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves until ctx is cancelled, then waits up to the shutdown timeout
// for in-flight requests. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		// Serve only returns early on a listener failure.
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.httpServer.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
