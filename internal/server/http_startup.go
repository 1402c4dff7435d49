package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Start serves until ctx is cancelled, then shuts down gracefully. Metrics
// are flushed to metrics.json in the background and once more on exit.
func (s *Server) Start(ctx context.Context) error {
	httpServer := s.setupHTTPServer()
	if err := s.configureTLS(httpServer); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", httpServer.Addr, err)
	}
	return s.Serve(ctx, httpServer, ln)
}

// Serve runs httpServer on ln. It is split from Start so tests can pick the listener.
func (s *Server) Serve(ctx context.Context, httpServer *http.Server, ln net.Listener) error {
	if bg, ok := s.Service.(BackgroundService); ok {
		if err := bg.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
		defer bg.Stop()
	}

	flushCtx, stopFlush := context.WithCancel(context.Background())
	flushDone := make(chan struct{})
	if s.Counters != nil {
		go func() {
			defer close(flushDone)
			s.Counters.Run(flushCtx, s.FlushInterval)
		}()
	} else {
		close(flushDone)
	}
	defer func() {
		stopFlush()
		<-flushDone
	}()

	s.writeBanner(os.Stdout)

	serverErrors := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting HTTP server",
			"address", ln.Addr().String(),
			"tls_enabled", httpServer.TLSConfig != nil)

		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ServeTLS(ln, "", "")
		} else {
			err = httpServer.Serve(ln)
		}
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.Logger.Info("Shutdown requested, starting graceful shutdown")
		return s.performGracefulShutdown(httpServer)
	}
}

// setupHTTPServer creates and configures the HTTP server
func (s *Server) setupHTTPServer() *http.Server {
	return &http.Server{
		Addr:         net.JoinHostPort(s.Host, s.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		IdleTimeout:  s.IdleTimeout,
	}
}

// performGracefulShutdown handles the graceful shutdown process
func (s *Server) performGracefulShutdown(server *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.cleanupRateLimiter()

	s.Logger.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.Logger.LogError(err, "Failed to shutdown server gracefully, forcing close")
		return server.Close()
	}

	s.Logger.Info("Server shutdown completed successfully")
	return nil
}

// cleanupRateLimiter cleans up the rate limiter resources
func (s *Server) cleanupRateLimiter() {
	if s.RateLimiter != nil {
		s.RateLimiter.Close()
		s.Logger.Debug("Rate limiter cleaned up")
	}
}
