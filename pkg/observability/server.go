package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server exposes metrics and health probes over HTTP.
type Server struct {
	httpServer *http.Server
	port       int
	health     *Health
}

// NewServer creates a new observability server
func NewServer(port int, health *Health) *Server {
	s := &Server{
		port:   port,
		health: health,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.health.ServeReport)
	mux.HandleFunc("/health/live", s.health.Live)
	mux.HandleFunc("/health/ready", s.health.Ready)
	mux.Handle("/metrics", MetricsHandler())

	return mux
}

// Start serves until Shutdown is called. A clean shutdown returns nil, also
// when Shutdown ran first.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
