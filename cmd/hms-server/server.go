package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/scheduling"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/telemetry"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// Seeded into the memory directory so a fresh dev server is bookable.
var (
	demoDoctorID  = uuid.MustParse("00000000-0000-0000-0000-0000000000d1")
	demoPatientID = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
)

// app is everything the HTTP server needs, built once by runServer.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	store     scheduling.Store
	directory scheduling.Directory
	idem      middleware.IdempotencyStore
	telemetry *telemetry.TelemetryProvider
	pool      *pgxpool.Pool // nil with the memory store
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runServer(storeKind string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.NewTelemetryProvider(ctx, telemetry.TelemetryConfig{
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.telemetry = tel

	switch storeKind {
	case storePostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required with --store=%s", storePostgres)
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		tel.ObservePool(pool)
		a.pool = pool
		a.store = scheduling.NewPGStore(pool)
		a.directory = scheduling.NewDirectoryPG(pool)
	case storeMemory:
		a.store = scheduling.NewMemoryStore()
		a.directory = demoDirectory()
		logger.Warn().
			Stringer("doctor_id", demoDoctorID).
			Stringer("patient_id", demoPatientID).
			Msg("using in-memory store; data is lost on exit")
	default:
		return fmt.Errorf("unknown store %q: want %s or %s", storeKind, storePostgres, storeMemory)
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable; idempotency keys pass through until it recovers")
		}
		a.idem = middleware.NewRedisIdempotencyStore(client, cfg.IdempotencyTTL)
	} else {
		a.idem = middleware.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	}

	e, err := newServer(a)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", storeKind).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app) (*echo.Echo, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))
	e.Use(a.telemetry.TracingMiddleware())
	e.Use(a.telemetry.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", middleware.IdempotencyKeyHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": a.cfg.ServiceVersion,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", a.telemetry.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	if a.cfg.IsDev() {
		a.logger.Warn().Msg("dev auth enabled: X-Dev-Actor-* headers are trusted")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			JWKSURL:    a.cfg.AuthJWKSURL,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		}))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	svc := scheduling.NewService(a.store, a.directory, scheduling.Options{
		Location:         loc,
		MaxAttempts:      a.cfg.BookingMaxAttempts,
		RetryDelay:       a.cfg.BookingRetryDelay,
		StaffDirect:      a.cfg.BookingStaffDirect,
		DefaultVisitType: a.cfg.DefaultVisitType,
		Logger:           &a.logger,
		Tracer:           a.telemetry.Tracer(),
		Metrics:          a.telemetry,
	})
	scheduling.NewHandler(svc).RegisterRoutes(apiV1, middleware.Idempotency(a.idem, a.logger))

	return e, nil
}

func demoDirectory() *scheduling.MemoryDirectory {
	dir := scheduling.NewMemoryDirectory()
	dir.AddDoctor(scheduling.Doctor{
		ID:        demoDoctorID,
		Name:      "Demo Doctor",
		Specialty: "General Practice",
		Available: true,
	})
	dir.AddPatient(scheduling.Patient{ID: demoPatientID, Name: "Demo Patient"})
	return dir
}

func printWindows(w io.Writer, windows []*scheduling.ScheduleWindow) {
	fmt.Fprintf(w, "%-36s %-10s %-5s %-5s %s\n", "ID", "DAY", "FROM", "TO", "CAPACITY")
	for _, win := range windows {
		fmt.Fprintf(w, "%-36s %-10s %-5s %-5s %d\n",
			win.ID, win.DayOfWeek, win.StartTime, win.EndTime, win.Capacity)
	}
}
