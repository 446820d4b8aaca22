package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/config"
	"github.com/jackzampolin/pdfmark/internal/dbcontainer"
	"github.com/jackzampolin/pdfmark/internal/home"
	"github.com/jackzampolin/pdfmark/internal/providers"
	"github.com/jackzampolin/pdfmark/internal/server/endpoints"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
)

// Server is the pdfmark HTTP server. It opens the state store and
// orchestrator on Start, resumes unfinished conversions and releases
// everything on shutdown.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	cfg        Config
	logger     *slog.Logger

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	services *svcctx.Services
	running  bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// WatchConfig reloads providers when the config file changes.
	WatchConfig bool
	// Home is the pdfmark home directory (default: ~/.pdfmark)
	Home *home.Dir
	// Registry replaces the config-driven provider registry.
	Registry *providers.Registry
	// Postgres holds managed postgres container settings.
	Postgres dbcontainer.Config
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	s.endpointRegistry.Register(endpoints.All()...)

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the services, resumes unfinished conversions and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("opening services")
	services, err := svcctx.Build(ctx, svcctx.BuildConfig{
		Config:   s.cfg.ConfigManager,
		Home:     s.cfg.Home,
		Logger:   s.logger,
		Registry: s.cfg.Registry,
		Postgres: s.cfg.Postgres,
	})
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	s.mu.Lock()
	s.services = services
	s.mu.Unlock()

	n, err := services.Orchestrator.Resume(ctx)
	if err != nil {
		_ = s.shutdown()
		return fmt.Errorf("failed to resume conversions: %w", err)
	}
	if n > 0 {
		s.logger.Info("resumed unfinished conversions", "count", n)
	}

	if s.cfg.WatchConfig && s.cfg.ConfigManager.ConfigFile() != "" {
		s.cfg.ConfigManager.WatchConfig()
		s.logger.Info("watching config for changes", "file", s.cfg.ConfigManager.ConfigFile())
	}
	s.logger.Info("server ready")

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown stops accepting requests, interrupts running conversions so they
// resume on the next start, and closes the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.Lock()
	services := s.services
	s.services = nil
	s.mu.Unlock()

	var err error
	if services != nil {
		if err = services.Close(shutdownCtx); err != nil {
			s.logger.Error("services close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Services returns the running services, or nil before Start finishes
// initializing them.
func (s *Server) Services() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// Addr returns the server's listen address. After Start it is the bound
// address, so port 0 resolves to the chosen port.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handler returns the HTTP handler with service injection applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.Services(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and orchestrator are up.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Services() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
