package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/config"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/intake"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/reportvalidation"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/sandbox"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/apierror"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/auth"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/db"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/events"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/metrics"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/middleware"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "safety-server",
		Short:        "Intake safety and report validation rule engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(sandboxCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "safety-server",
		LockTimeout:     5 * time.Second,
	})
}

// newEmitter always logs audit events and additionally delivers them to a
// webhook and a Pub/Sub topic when configured. The returned close func
// flushes both.
func newEmitter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (events.Emitter, func(), error) {
	emitters := []events.Emitter{events.NewLogEmitter(logger)}
	var closers []func()
	closeFn := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.AuditWebhookURL != "" {
		wh, err := events.NewWebhookEmitter(cfg.AuditWebhookURL, cfg.AuditWebhookSecret,
			events.WithWebhookLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		emitters = append(emitters, wh)
		closers = append(closers, func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := wh.Close(flushCtx); err != nil {
				logger.Error().Err(err).Msg("flush audit webhook")
			}
		})
		logger.Info().Str("url", cfg.AuditWebhookURL).Msg("delivering audit events to webhook")
	}
	if cfg.AuditPubSubTopic != "" {
		ps, err := events.NewPubSubEmitter(ctx, cfg.AuditPubSubProject, cfg.AuditPubSubTopic)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		emitters = append(emitters, ps)
		closers = append(closers, func() {
			if err := ps.Close(); err != nil {
				logger.Error().Err(err).Msg("close audit publisher")
			}
		})
		logger.Info().Str("project", cfg.AuditPubSubProject).Str("topic", cfg.AuditPubSubTopic).Msg("publishing audit events")
	}

	if len(emitters) == 1 {
		return emitters[0], closeFn, nil
	}
	return events.NewMultiEmitter(emitters...), closeFn, nil
}

// services bundles everything the HTTP layer and the CLI share.
type services struct {
	rules      *rules.Service
	intake     *intake.Service
	validation *reportvalidation.Service
	sandbox    *sandbox.Service
	cache      *rules.ActiveCache
}

func buildServices(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, m *metrics.Collector, emitter events.Emitter) *services {
	rulesSvc := rules.NewService(rules.NewRepoPG(pool), logger)
	rulesSvc.SetMetrics(m)
	rulesSvc.SetEmitter(emitter)

	var cache *rules.ActiveCache
	if cfg.RulesetRefreshSchedule != "" {
		cache = rules.NewActiveCache(rulesSvc.LoadActive, logger, m)
		rulesSvc.SetCache(cache)
	}

	sampler := queue.Sampler{Rate: cfg.ReviewSampleRate}

	intakeSvc := intake.NewService(intake.NewRecordRepoPG(pool), intake.NewOverrideRepoPG(pool), rulesSvc, logger)
	intakeSvc.SetMetrics(m)
	intakeSvc.SetEmitter(emitter)
	intakeSvc.SetSampler(sampler)

	validationSvc := reportvalidation.NewService(rulesSvc, logger)
	validationSvc.SetMetrics(m)
	validationSvc.SetEmitter(emitter)
	validationSvc.SetSampler(sampler)

	return &services{
		rules:      rulesSvc,
		intake:     intakeSvc,
		validation: validationSvc,
		sandbox:    sandbox.NewService(rulesSvc, logger),
		cache:      cache,
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New(cfg.MetricsNamespace)
	}

	emitter, closeEmitter, err := newEmitter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create audit publisher")
	}
	defer closeEmitter()

	svcs := buildServices(pool, cfg, logger, collector, emitter)
	if svcs.cache != nil {
		if err := svcs.cache.Start(cfg.RulesetRefreshSchedule, 10*time.Second); err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule ruleset refresh")
		}
		defer svcs.cache.Stop()
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierror.Handler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "4M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		logger.Warn().Msg("development auth enabled: requests without a token act as admin")
		e.Use(auth.DevAuthMiddleware())
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	if collector != nil {
		e.GET("/metrics", echo.WrapHandler(collector.Handler()))
	}

	apiV1 := e.Group("/api/v1")
	rules.NewHandler(svcs.rules).RegisterRoutes(apiV1)
	intake.NewHandler(svcs.intake).RegisterRoutes(apiV1)
	reportvalidation.NewHandler(svcs.validation).RegisterRoutes(apiV1)
	sandbox.NewHandler(svcs.sandbox).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
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
	logger.Info().Msg("server stopped")
	return nil
}
