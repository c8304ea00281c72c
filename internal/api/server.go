package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/backgrounder/internal/lifecycle"
	"github.com/seantiz/backgrounder/internal/policy"
	"github.com/seantiz/backgrounder/internal/prefs"
	"github.com/seantiz/backgrounder/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	prefs    *prefs.Store
	resolver *policy.Resolver
	mediator *lifecycle.Mediator
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, p *prefs.Store, r *policy.Resolver, m *lifecycle.Mediator, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		prefs:    p,
		resolver: r,
		mediator: m,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1/preferences", func(r chi.Router) {
		r.Get("/", s.handleGetPreferences)
		r.Put("/global", s.handlePutGlobal)
		r.Post("/reload", s.handleReloadPreferences)
		r.Get("/apps/{id}", s.handleGetOverride)
		r.Put("/apps/{id}", s.handlePutOverride)
		r.Delete("/apps/{id}", s.handleDeleteOverride)
		r.Get("/apps/{id}/effective", s.handleGetEffective)
	})

	s.router.Route("/v1/apps", func(r chi.Router) {
		r.Get("/", s.handleListApps)
		r.Get("/{id}", s.handleGetApp)
		r.Post("/{id}/resolve", s.handleResolve)
		r.Post("/{id}/events", s.handlePostEvent)
		r.Post("/{id}/toggle", s.handleToggle)
		r.Get("/{id}/events/stream", s.handleStreamApp)
		r.Get("/{id}/transitions", s.handleListAppTransitions)
	})

	s.router.Get("/v1/events/stream", s.handleStreamAll)
	s.router.Get("/v1/transitions", s.handleListTransitions)
	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/diagnostics", s.handleListDiagnostics)
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
