package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadyFunc reports whether the process can serve analysis traffic.
type ReadyFunc func() error

// Server exposes Prometheus metrics plus liveness and readiness probes on
// a port separate from the API.
type Server struct {
	server *http.Server
	port   int
	ready  ReadyFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReadiness makes /ready answer 503 while fn returns an error.
func WithReadiness(fn ReadyFunc) ServerOption {
	return func(s *Server) { s.ready = fn }
}

func NewServer(port int, opts ...ServerOption) *Server {
	s := &Server{port: port}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.live)
	mux.HandleFunc("/ready", s.readiness)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the probe and metrics mux.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("metrics listener on port %d: %w", s.port, err)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
