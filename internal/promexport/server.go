package promexport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/torosent/loadcheck/internal/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves /metrics for a Recorder.
type Server struct {
	server *http.Server
	router chi.Router

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a metrics server listening on addr once Run is called.
func NewServer(addr string, rec *Recorder) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", rec.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &Server{
		server: &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: readHeaderTimeout},
		router: r,
		ready:  make(chan struct{}),
	}
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once the server is listening, or "" before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run serves metrics until ctx is done, then shuts the server down.
// Blocks until the server has stopped.
func (s *Server) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	cErr := make(chan error, 1)
	go func() {
		defer close(cErr)
		log.Info("serving metrics", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		<-cErr
		return nil
	case err, ok := <-cErr:
		if !ok {
			log.Info("metrics server closed")
			return nil
		}
		log.Error("metrics server failed", zap.Error(err))
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logger.FromContext(ctx).Error("failed to shut down metrics server", zap.Error(err))
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}
