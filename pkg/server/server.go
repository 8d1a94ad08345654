package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adfharrison1/go-db-repl/pkg/api"
	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
)

// Server serves the inspection API over HTTP.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a server listening on addr that routes requests to handler.
func NewServer(addr string, handler *api.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
	}
	handler.RegisterRoutes(s.router)

	// Use the logging middleware for all routes
	s.router.Use(s.requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn("no route found", "method", r.Method, "path", r.URL.Path)
		api.WriteJSONError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming handlers working through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLoggerMiddleware logs the method, URL path, status and duration for each request.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start))
	})
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting go-db-repl server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return errors.Wrap(s.httpServer.Shutdown(ctx), "shutdown")
}
