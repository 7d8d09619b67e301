package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ehr/revcycle/internal/config"
	"github.com/ehr/revcycle/internal/domain/aging"
	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/domain/contract"
	"github.com/ehr/revcycle/internal/domain/posting"
	"github.com/ehr/revcycle/internal/domain/remittance"
	"github.com/ehr/revcycle/internal/domain/underpayment"
	"github.com/ehr/revcycle/internal/platform/auth"
	"github.com/ehr/revcycle/internal/platform/db"
	"github.com/ehr/revcycle/internal/platform/metrics"
	"github.com/ehr/revcycle/internal/platform/middleware"
	"github.com/ehr/revcycle/internal/platform/validation"
	"github.com/ehr/revcycle/internal/platform/x12"
)

const (
	version             = "0.1.0"
	controlNumberPrefix = "revcycle:x12:"
)

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// envelopeFrom maps the X12_* settings onto the 837P interchange envelope.
func envelopeFrom(cfg *config.Config) claim.EnvelopeConfig {
	return claim.EnvelopeConfig{
		SenderID:       cfg.X12SubmitterID,
		SenderName:     cfg.X12SubmitterName,
		ContactName:    cfg.X12SubmitterContact,
		ContactPhone:   cfg.X12SubmitterPhone,
		ReceiverID:     cfg.X12ReceiverID,
		ReceiverName:   cfg.X12ReceiverName,
		UsageIndicator: cfg.X12UsageIndicator,
	}
}

func thresholdsFrom(cfg *config.Config) underpayment.Thresholds {
	return underpayment.Thresholds{
		MinVariance: decimal.NewFromFloat(cfg.UnderpaymentMinVariance),
		MinPercent:  decimal.NewFromFloat(cfg.UnderpaymentMinPercent),
	}
}

type payerRuleEntry struct {
	InsuranceID      string `mapstructure:"insurance_id"`
	claim.PayerRules `mapstructure:",squash"`
}

// loadPayerRules reads payer-specific claim rules from a YAML or JSON file
// holding a "payers" list, each entry naming its insurance_id. Viper folds
// map keys to lower case, so procedure codes under max_units are restored to
// upper case. An empty path yields no rules.
func loadPayerRules(path string) (claim.StaticPayerRules, error) {
	rules := claim.StaticPayerRules{}
	if path == "" {
		return rules, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read payer rules: %w", err)
	}
	var entries []payerRuleEntry
	if err := v.UnmarshalKey("payers", &entries); err != nil {
		return nil, fmt.Errorf("decode payer rules: %w", err)
	}
	for _, e := range entries {
		if e.InsuranceID == "" {
			return nil, fmt.Errorf("payer rules: entry for payer %q has no insurance_id", e.PayerID)
		}
		if len(e.MaxUnits) > 0 {
			units := make(map[string]int, len(e.MaxUnits))
			for code, n := range e.MaxUnits {
				units[strings.ToUpper(code)] = n
			}
			e.MaxUnits = units
		}
		rules[e.InsuranceID] = e.PayerRules
	}
	return rules, nil
}

// controlSequence returns a Redis-backed control number sequence when
// REDIS_URL is set so that every replica draws from the same counters.
func controlSequence(cfg *config.Config) (x12.ControlNumberSequence, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return x12.NewMemorySequence(0), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return x12.NewRedisSequence(client, controlNumberPrefix), client, nil
}

func rateLimitFrom(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

// registerBilling builds the billing services on pool and mounts their
// routes on api.
func registerBilling(api *echo.Group, pool *pgxpool.Pool, cfg *config.Config, seq x12.ControlNumberSequence,
	payerRules claim.PayerRuleSet, rec *metrics.Recorder, logger zerolog.Logger) {
	claimRepo := claim.NewRepoPG(pool)
	contractRepo := contract.NewRepoPG(pool)
	eraRepo := remittance.NewRepoPG(pool)
	postingRepo := posting.NewRepoPG(pool)
	detectionRepo := underpayment.NewRepoPG(pool)

	validator := claim.NewValidator(payerRules, claim.WithTimelyFilingDays(cfg.TimelyFilingDays))
	encoder := claim.NewEncoder(envelopeFrom(cfg), seq, validator)
	claimSvc := claim.NewService(claimRepo, validator, encoder, rec, logger,
		claim.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, pool, fn)
		}),
	)
	claim.NewHandler(claimSvc).RegisterRoutes(api)

	calc := contract.NewCalculator(contract.ReferenceMedicareRates())
	contract.NewHandler(contract.NewService(contractRepo, claimRepo, calc)).RegisterRoutes(api)

	eraSvc := remittance.NewService(eraRepo, rec, logger)
	remittance.NewHandler(eraSvc).RegisterRoutes(api)

	detector := underpayment.NewDetector(contractRepo, calc, detectionRepo,
		underpayment.WithThresholds(thresholdsFrom(cfg)),
		underpayment.WithMetrics(rec),
		underpayment.WithLogger(logger),
	)
	underpayment.NewHandler(underpayment.NewService(detectionRepo)).RegisterRoutes(api)

	engine := posting.NewEngine(claimRepo, postingRepo,
		posting.WithTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, pool, fn)
		}),
		posting.WithWorkerScope(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithOwnConn(ctx, pool, fn)
		}),
		posting.WithConcurrency(cfg.PostingConcurrency),
		posting.WithUnderpaymentHook(detector),
		posting.WithMetrics(rec),
		posting.WithLogger(logger),
	)
	posting.NewHandler(eraSvc, engine, postingRepo).RegisterRoutes(api)

	aging.NewHandler(aging.NewService(claimRepo)).RegisterRoutes(api)
}

func runServer() error {
	// Logger
	logger := newLogger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Control numbers
	seq, redisClient, err := controlSequence(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure control numbers")
	}
	var deps []db.Dependency
	if redisClient != nil {
		defer redisClient.Close()
		deps = append(deps, db.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
		logger.Info().Msg("using redis control number sequence")
	} else {
		logger.Warn().Msg("REDIS_URL not set, control numbers are process-local")
	}

	payerRules, err := loadPayerRules(cfg.PayerRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load payer rules")
	}

	rec := metrics.New()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.EDIBodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant, auth.AuthSkipper))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, deps...))
	e.GET("/metrics", rec.Handler())

	// API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitFrom(cfg)))
	registerBilling(apiV1, pool, cfg, seq, payerRules, rec, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
