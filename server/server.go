package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
		logger: logger.With("component", "server"),
	}
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, ends every live stream, waits for
// their cleanup and finally releases the publisher's broker connection.
// ctx bounds the whole sequence.
func (s *Server) Shutdown(ctx context.Context, clients *ClientManager, publisher io.Closer) {
	// Step 1: Stop accepting new connections. Streams never go idle on their
	// own, so http.Server.Shutdown only returns once step 2 has ended them.
	s.logger.Info("shutting down HTTP server")
	httpDone := make(chan error, 1)
	go func() {
		httpDone <- s.httpServer.Shutdown(ctx)
	}()

	// Step 2: End all active streams
	s.logger.Info("closing streams", "sessions", clients.Count())
	clients.CloseAllConnections("server shutting down")

	// Step 3: Wait for sessions to release their broker resources
	done := make(chan struct{})
	go func() {
		clients.WaitForCompletion()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all sessions released")
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	if err := <-httpDone; err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
		_ = s.httpServer.Close()
	}

	// Step 4: Close the publisher's broker connection
	s.logger.Info("closing message broker")
	if err := publisher.Close(); err != nil {
		s.logger.Warn("broker closure error", "error", err)
	}

	s.logger.Info("shutdown complete")
}
