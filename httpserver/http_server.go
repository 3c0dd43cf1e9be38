/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package httpserver provides an HTTP server unit with Prometheus metrics and health-check endpoints.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/acronis/go-jobthrottle/log"
	"github.com/acronis/go-jobthrottle/service"
)

// HTTPServer represents a wrapper around http.Server that implements service.Unit.
type HTTPServer struct {
	HTTPServer *http.Server
	Logger     log.FieldLogger
	Config     *Config

	mu       sync.Mutex
	listener net.Listener
	started  bool
	done     chan struct{}
}

var _ service.Unit = (*HTTPServer)(nil)

// New creates a new HTTPServer with the given handler.
func New(cfg *Config, logger log.FieldLogger, handler http.Handler) *HTTPServer {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &HTTPServer{
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			WriteTimeout:      cfg.Timeouts.Write,
			ReadTimeout:       cfg.Timeouts.Read,
			ReadHeaderTimeout: cfg.Timeouts.ReadHeader,
			IdleTimeout:       cfg.Timeouts.Idle,
			Handler:           handler,
		},
		Logger: logger,
		Config: cfg,
		done:   make(chan struct{}),
	}
}

// Start starts HTTP server in a blocking way.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *HTTPServer) Start(fatalError chan<- error) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	logger := s.Logger.With(log.String("address", s.HTTPServer.Addr))
	logger.Info("starting HTTP server...")

	ln, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		logger.Error("HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if err = s.HTTPServer.Serve(ln); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("HTTP server closed")
			return
		}
		logger.Error("HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Addr returns the address the server listens on or nil if it's not started yet.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops HTTP server (gracefully or not).
func (s *HTTPServer) Stop(gracefully bool) error {
	if !gracefully {
		s.Logger.Info("closing HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("HTTP server closing error", log.Error(err))
			return err
		}
		s.wait()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeouts.Shutdown)
	defer cancel()

	s.Logger.Info("shutting down HTTP server...", log.Duration("timeout", s.Config.Timeouts.Shutdown))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("HTTP server shut down")
	s.wait()
	return nil
}

func (s *HTTPServer) wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}
