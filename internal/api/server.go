package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"convertd/internal/artifact"
	"convertd/internal/config"
	"convertd/internal/intake"
	"convertd/internal/logging"
	"convertd/internal/settings"
	"convertd/internal/status"
)

const shutdownTimeout = 5 * time.Second

// Enqueuer hands accepted uploads to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, filename string, content []byte, target string, bundle settings.Bundle) (string, error)
}

// StatusSource reports a job's reconciled state.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (status.JobStatus, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Gate       *intake.Gate
	Resolver   *settings.Resolver
	Dispatcher Enqueuer
	Status     StatusSource
	Artifacts  artifact.Store
}

// Server owns the HTTP handler and its listener.
type Server struct {
	bind         string
	maxUpload    int64
	maxInFlight  int
	readTimeout  time.Duration
	writeTimeout time.Duration
	corsOrigins  []string

	deps    Deps
	limiter *clientLimiter
	logger  *slog.Logger
	handler http.Handler
}

// NewServer builds the router for cfg.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if deps.Gate == nil || deps.Resolver == nil || deps.Dispatcher == nil || deps.Status == nil || deps.Artifacts == nil {
		return nil, errors.New("api: every dependency is required")
	}
	s := &Server{
		bind:         strings.TrimSpace(cfg.Paths.APIBind),
		maxUpload:    cfg.MaxUploadBytes(),
		maxInFlight:  cfg.API.MaxConcurrentUploads,
		readTimeout:  time.Duration(cfg.API.ReadTimeout) * time.Second,
		writeTimeout: time.Duration(cfg.API.WriteTimeout) * time.Second,
		corsOrigins:  cfg.API.CORSOrigins,
		deps:         deps,
		limiter:      newClientLimiter(cfg.API.RateLimitPerMinute, cfg.API.RateLimitBurst),
		logger:       logging.NewComponentLogger(logger, "api"),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	if len(s.corsOrigins) > 0 {
		// Answers preflight requests before routing, so OPTIONS needs no routes.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status/{job_id}", s.handleStatus)
	r.Get("/result/{job_id}", s.handleResult)
	r.With(s.rateLimit, middleware.Throttle(s.maxInFlight)).Post("/convert", s.handleConvert)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address until ctx is cancelled, then shuts
// the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown incomplete", logging.Error(err))
	}
	s.logger.Info("api server stopped")
	return nil
}
