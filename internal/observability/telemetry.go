// Package observability provides logging, metrics, and tracing capabilities
package observability

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Telemetry provides unified observability for OSINTForge
type Telemetry struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *Metrics
	registry     *prometheus.Registry
	config       Config
	shutdownOnce sync.Once
	shutdownFns  []func(context.Context) error
}

// Config configures telemetry
type Config struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json, console

	// Tracing
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "osintforge",
		ServiceVersion: "dev",
		Environment:    "development",
		LogLevel:       "info",
		LogFormat:      "json",
		OTLPEndpoint:   "localhost:4317",
		SamplingRate:   1.0,
		MetricsEnabled: true,
	}
}

// Metrics holds Prometheus metrics for OSINTForge. All recording methods are
// safe to call on a nil *Metrics.
type Metrics struct {
	// Investigation metrics
	InvestigationsTotal  *prometheus.CounterVec
	ActiveInvestigations prometheus.Gauge
	InvestigationLatency prometheus.Histogram

	// Source metrics
	SourceInvocations *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec
	SourceRetries     *prometheus.CounterVec

	// Cache metrics
	CacheLookups   *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheEntries   prometheus.Gauge

	// System metrics
	GoroutineCount prometheus.Gauge
	MemoryUsage    prometheus.Gauge

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a new Telemetry instance
func New(cfg Config) (*Telemetry, error) {
	t := &Telemetry{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	// Initialize logger
	logger, err := t.initLogger()
	if err != nil {
		return nil, err
	}
	t.logger = logger

	// Initialize tracer
	if cfg.TracingEnabled {
		if err := t.initTracer(); err != nil {
			logger.Warn("Failed to initialize tracer", zap.Error(err))
		}
	}
	t.tracer = otel.Tracer(cfg.ServiceName)

	// Initialize metrics
	if cfg.MetricsEnabled {
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(t.registry)
	}

	return t, nil
}

// NewLogger builds a zap logger with the given level and format.
func NewLogger(level, format string, fields map[string]interface{}) (*zap.Logger, error) {
	var config zap.Config

	if format == "console" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.InitialFields = fields

	return config.Build()
}

// initLogger initializes structured logging
func (t *Telemetry) initLogger() (*zap.Logger, error) {
	return NewLogger(t.config.LogLevel, t.config.LogFormat, map[string]interface{}{
		"service":     t.config.ServiceName,
		"version":     t.config.ServiceVersion,
		"environment": t.config.Environment,
	})
}

// initTracer initializes OpenTelemetry tracing
func (t *Telemetry) initTracer() error {
	ctx := context.Background()

	// Create OTLP exporter
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(t.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return err
	}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(t.config.ServiceName),
			semconv.ServiceVersion(t.config.ServiceVersion),
			attribute.String("environment", t.config.Environment),
		),
	)
	if err != nil {
		return err
	}

	// Create trace provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.config.SamplingRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.shutdownFns = append(t.shutdownFns, tp.Shutdown)

	return nil
}

// NewMetrics registers the OSINTForge metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	namespace := "osintforge"
	factory := promauto.With(reg)

	return &Metrics{
		InvestigationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "investigations_total",
				Help:      "Investigations by terminal status",
			},
			[]string{"status"},
		),
		ActiveInvestigations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_investigations",
				Help:      "Investigations currently running",
			},
		),
		InvestigationLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "investigation_duration_seconds",
				Help:      "Time from dispatch to terminal state",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		SourceInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_invocations_total",
				Help:      "Source adapter outcomes",
			},
			[]string{"source", "status", "error_kind"},
		),
		SourceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "source_duration_seconds",
				Help:      "Source adapter duration including retries",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"source"},
		),
		SourceRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_retries_total",
				Help:      "Source adapter retries",
			},
			[]string{"source"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Report cache lookups by result",
			},
			[]string{"result"},
		),
		CacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Report cache evictions by reason",
			},
			[]string{"reason"},
		),
		CacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Reports currently cached",
			},
		),
		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "goroutine_count",
				Help:      "Current goroutine count",
			},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

// InvestigationStarted records a dispatch.
func (m *Metrics) InvestigationStarted() {
	if m == nil {
		return
	}
	m.ActiveInvestigations.Inc()
}

// InvestigationFinished records a terminal transition.
func (m *Metrics) InvestigationFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveInvestigations.Dec()
	m.InvestigationsTotal.WithLabelValues(status).Inc()
	m.InvestigationLatency.Observe(elapsed.Seconds())
}

// SourceObserved records one adapter outcome.
func (m *Metrics) SourceObserved(source, status, errorKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SourceInvocations.WithLabelValues(source, status, errorKind).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

// SourceRetried records a retry.
func (m *Metrics) SourceRetried(source string) {
	if m == nil {
		return
	}
	m.SourceRetries.WithLabelValues(source).Inc()
}

// CacheLookup records a cache lookup result (hit, miss, attach, expired).
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheEvicted records an eviction.
func (m *Metrics) CacheEvicted(reason string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(reason).Inc()
}

// CacheSize sets the current entry count.
func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Logger returns the logger
func (t *Telemetry) Logger() *zap.Logger {
	return t.logger
}

// Tracer returns the tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Metrics returns the metrics. It is nil when metrics are disabled.
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// StartSpan starts a new trace span
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError records an error to the current span and logs it
func (t *Telemetry) RecordError(ctx context.Context, err error, fields ...zap.Field) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
	}
	t.logger.Error(err.Error(), fields...)
}

// MetricsHandler returns the Prometheus metrics handler for the private registry
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// StartSystemMetricsCollector starts collecting system metrics
func (t *Telemetry) StartSystemMetricsCollector(ctx context.Context) {
	if t.metrics == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				t.metrics.GoroutineCount.Set(float64(runtime.NumGoroutine()))
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				t.metrics.MemoryUsage.Set(float64(m.Alloc))
			}
		}
	}()
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		for _, fn := range t.shutdownFns {
			if e := fn(ctx); e != nil {
				err = e
			}
		}
		t.logger.Sync()
	})
	return err
}
