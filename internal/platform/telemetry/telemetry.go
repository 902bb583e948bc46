// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for the
// scheduling server. Metrics live in a private registry served at /metrics.
// Traces are exported over OTLP gRPC when an endpoint is configured and are
// otherwise kept in process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hms/hms"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string  // gRPC collector endpoint; empty disables export
	SampleRate     float64 // 0.0 to 1.0
	MetricsEnabled *bool   // nil = true
	TracingEnabled *bool   // nil = true

	// SpanExporter overrides the OTLP exporter. Spans are exported
	// synchronously, which tests rely on.
	SpanExporter sdktrace.SpanExporter
}

func (c *TelemetryConfig) metricsOn() bool {
	return c.MetricsEnabled == nil || *c.MetricsEnabled
}

func (c *TelemetryConfig) tracingOn() bool {
	return c.TracingEnabled == nil || *c.TracingEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "hms-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Booking outcomes recorded by BookingAttempt.
const (
	OutcomeBooked   = "booked"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// TelemetryProvider owns the metric registry and the tracer provider.
type TelemetryProvider struct {
	cfg        TelemetryConfig
	registry   *prometheus.Registry
	tracerProv *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	bookings       *prometheus.CounterVec
	bookingRetries prometheus.Counter
	transitions    *prometheus.CounterVec

	shutdownOnce sync.Once
}

// NewTelemetryProvider builds the provider. It fails only when the OTLP
// exporter cannot be constructed.
func NewTelemetryProvider(ctx context.Context, cfg TelemetryConfig) (*TelemetryProvider, error) {
	cfg.applyDefaults()

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Number of in-flight HTTP requests",
		}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointment_bookings_total",
			Help: "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appointment_booking_retries_total",
			Help: "Booking transactions retried after a concurrent booking",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointment_status_transitions_total",
			Help: "Applied appointment status transitions",
		}, []string{"from", "to"}),
	}

	tp.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		tp.requests, tp.duration, tp.activeRequests,
		tp.bookings, tp.bookingRetries, tp.transitions,
	)

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	switch {
	case cfg.SpanExporter != nil:
		opts = append(opts, sdktrace.WithSyncer(cfg.SpanExporter))
	case cfg.OTLPEndpoint != "":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	tp.tracerProv = sdktrace.NewTracerProvider(opts...)

	return tp, nil
}

// Shutdown flushes pending spans.
func (tp *TelemetryProvider) Shutdown(ctx context.Context) error {
	var err error
	tp.shutdownOnce.Do(func() {
		err = tp.tracerProv.Shutdown(ctx)
	})
	return err
}

// Tracer returns the tracer used for service-level spans.
func (tp *TelemetryProvider) Tracer() trace.Tracer {
	return tp.tracerProv.Tracer(instrumentationName)
}

// Registry exposes the metric registry, mainly for tests.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// BookingAttempt counts one booking request by outcome.
func (tp *TelemetryProvider) BookingAttempt(outcome string) {
	tp.bookings.WithLabelValues(outcome).Inc()
}

// BookingRetry counts a booking transaction retried after losing a race.
func (tp *TelemetryProvider) BookingRetry() {
	tp.bookingRetries.Inc()
}

// StatusTransition counts an applied status change.
func (tp *TelemetryProvider) StatusTransition(from, to string) {
	tp.transitions.WithLabelValues(from, to).Inc()
}

// ObservePool exports pgx pool statistics, read on every scrape.
func (tp *TelemetryProvider) ObservePool(pool *pgxpool.Pool) {
	gauge := func(name, help string, f func(*pgxpool.Stat) int32) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(f(pool.Stat()))
		})
	}
	tp.registry.MustRegister(
		gauge("db_pool_acquired_connections", "Connections currently in use", (*pgxpool.Stat).AcquiredConns),
		gauge("db_pool_idle_connections", "Idle connections", (*pgxpool.Stat).IdleConns),
		gauge("db_pool_total_connections", "Total pool connections", (*pgxpool.Stat).TotalConns),
	)
}

// responseStatus is the status the error handler will write for err, or the
// already committed status when err is nil.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func routeOf(c echo.Context) string {
	if r := c.Path(); r != "" {
		return r
	}
	return c.Request().URL.Path
}

// TracingMiddleware starts a server span per request, continuing any
// W3C trace context sent by the caller.
func (tp *TelemetryProvider) TracingMiddleware() echo.MiddlewareFunc {
	tracer := tp.Tracer()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.tracingOn() {
				return next(c)
			}
			req := c.Request()
			ctx := tp.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			route := routeOf(c)

			ctx, span := tracer.Start(ctx, "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				),
			)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			status := responseStatus(c, err)
			span.SetAttributes(attribute.Int("http.status_code", status))
			if rid, ok := c.Get("request_id").(string); ok {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}
			return err
		}
	}
}

// MetricsMiddleware records request counts and latencies by route pattern.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}
			tp.activeRequests.Inc()
			defer tp.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			method, route := c.Request().Method, routeOf(c)
			tp.requests.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
			tp.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{}))
}
