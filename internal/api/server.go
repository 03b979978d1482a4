// Package api exposes investigations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/dispatch"
	"github.com/lvonguyen/osintforge/internal/engine"
	"github.com/lvonguyen/osintforge/internal/investigation"
	"github.com/lvonguyen/osintforge/internal/observability"
	"github.com/lvonguyen/osintforge/internal/source"
)

// Investigations is the engine surface the API needs.
type Investigations interface {
	Submit(ctx context.Context, q investigation.Query) (engine.Submission, error)
	Run(ctx context.Context, fingerprint string) (*dispatch.Run, error)
	Ready(ctx context.Context) error
}

// Config configures the HTTP surface.
type Config struct {
	Version         string        `yaml:"-"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	StreamHeartbeat time.Duration `yaml:"stream_heartbeat"`
	// HealthCheckTimeout bounds the source checks behind /ready.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	CORS               CORSConfig    `yaml:"cors"`
}

// CORSConfig configures cross-origin access for the dashboard.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version:            "dev",
		RequestTimeout:     30 * time.Second,
		MaxBodyBytes:       10 << 20,
		StreamHeartbeat:    15 * time.Second,
		HealthCheckTimeout: 5 * time.Second,
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxAge:         300,
		},
	}
}

// Server serves the investigation API.
type Server struct {
	investigations Investigations
	registry       *source.Registry
	telemetry      *observability.Telemetry
	logger         *zap.Logger
	config         Config
}

// NewServer creates a server. telemetry may be nil.
func NewServer(inv Investigations, registry *source.Registry, telemetry *observability.Telemetry, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		investigations: inv,
		registry:       registry,
		telemetry:      telemetry,
		logger:         logger,
		config:         cfg,
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.telemetry != nil {
		r.Method(http.MethodGet, "/metrics", s.telemetry.MetricsHandler())
	}

	// API routes
	r.Route("/api/v1/investigations", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.config.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.config.RequestTimeout))
			}
			r.Post("/", s.handleSubmit)
			r.Get("/{fingerprint}", s.handleGetReport)
		})
		// Streams outlive the request timeout.
		r.Get("/{fingerprint}/stream", s.handleStream)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           s.config.CORS.MaxAge,
	})
	return c.Handler(r)
}

// startSpan starts a span on the server's tracer, or a no-op span without
// telemetry.
func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.telemetry == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return s.telemetry.StartSpan(ctx, name)
}

func (s *Server) metrics() *observability.Metrics {
	if s.telemetry == nil {
		return nil
	}
	return s.telemetry.Metrics()
}

// requestLogger logs each request with zap and records HTTP metrics against
// the matched route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics().HTTPRequest(r.Method, route, status, elapsed)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}
