// Package ops hosts the health and metrics HTTP server shared by all three
// services (ingest, metrics, alerts). Shutdown-signal handling and the drain
// of background goroutines live in each service's cmd main; this package
// only provides Server.Shutdown.
package ops

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the read-only /healthz + /metrics HTTP server run alongside a
// service's main loop.
type Server struct {
	router  *mux.Router
	server  *http.Server
	config  ServerConfig
	log     zerolog.Logger
	metrics *Registry
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration, honoring
// OPS_PORT the way the teacher honors HTTP_PORT.
func DefaultServerConfig() ServerConfig {
	port := 9090
	if portStr := os.Getenv("OPS_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// HealthProvider supplies the current system health snapshot for /healthz.
type HealthProvider func(ctx context.Context) SystemHealth

// NewServer creates a new ops HTTP server instance, pre-checking port
// availability the same way the teacher's interfaces/http.NewServer does.
func NewServer(cfg ServerConfig, serviceName string, healthFn HealthProvider, log zerolog.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ops: port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		log:     log.With().Str("component", "ops").Str("service", serviceName).Logger(),
		metrics: NewRegistry(serviceName),
	}
	s.setupRoutes(serviceName, healthFn)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// Metrics returns the Prometheus registry so the owning service can record
// domain metrics (ingest lag, alert counts, etc.) alongside process metrics.
func (s *Server) Metrics() *Registry { return s.metrics }

func (s *Server) setupRoutes(serviceName string, healthFn HealthProvider) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/healthz", newHealthHandler(serviceName, healthFn)).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(notFound)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"error":"not found","path":%q}`, r.URL.Path)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Debug().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("ops request")
	})
}

// timeoutMiddleware bounds every ops request, distinct from the service's
// own shutdown deadline.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins serving and blocks until the listener stops (mirroring
// http.Server.ListenAndServe semantics); run it in its own goroutine.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.GetAddress()).Msg("ops server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("ops server shutting down")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the listen address.
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
