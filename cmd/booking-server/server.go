package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/carebook/booking/internal/config"
	"github.com/carebook/booking/internal/domain/scheduling"
	"github.com/carebook/booking/internal/platform/auth"
	"github.com/carebook/booking/internal/platform/cache"
	"github.com/carebook/booking/internal/platform/clock"
	"github.com/carebook/booking/internal/platform/db"
	"github.com/carebook/booking/internal/platform/metrics"
	"github.com/carebook/booking/internal/platform/middleware"
	"github.com/carebook/booking/internal/platform/payments"
)

// stores holds the persistence backends selected by STORAGE.
type stores struct {
	profiles scheduling.ProfileRepository
	ledger   scheduling.Ledger
	pool     *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func openStores(ctx context.Context, cfg *config.Config, clk clock.Clock, retry scheduling.RetryPolicy) (*stores, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return &stores{
			profiles: scheduling.NewProfileRepoMemory(clk),
			ledger:   scheduling.NewMemoryLedger(clk),
		}, nil
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			profiles: scheduling.NewProfileRepoPG(pool, clk),
			ledger:   scheduling.NewLedgerPG(pool, clk, retry),
			pool:     pool,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func schedulingConfig(cfg *config.Config) scheduling.Config {
	return scheduling.Config{
		DefaultTimezone:             cfg.DefaultTimezone,
		DefaultSlotMinutes:          cfg.DefaultSlotMinutes,
		MinDurationMinutes:          cfg.MinDurationMinutes,
		MaxDurationMinutes:          cfg.MaxDurationMinutes,
		SkewGrace:                   cfg.ClockSkewGrace,
		AutoConfirmProviderBookings: cfg.AutoConfirmProviderBookings,
		SlotCacheTTL:                cfg.SlotCacheTTL,
	}
}

// resolveSigningKey decodes the hex AUTH_SIGNING_KEY. Keys shorter than 32
// bytes are rejected.
func resolveSigningKey(value string) ([]byte, error) {
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_SIGNING_KEY hex value: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(key))
	}
	return key, nil
}

func newVerifier(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (auth.IdentityVerifier, error) {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth is active: anonymous requests act as admin, do not use in production")
		return auth.NewDevVerifier(), nil
	}
	jc := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		key, err := resolveSigningKey(cfg.AuthSigningKey)
		if err != nil {
			return nil, err
		}
		jc.SigningKey = key
	}
	return auth.NewJWTVerifier(ctx, jc)
}

// paymentRecorder feeds Stripe outcomes into the booking service.
func paymentRecorder(svc *scheduling.Service) payments.Recorder {
	return payments.RecorderFunc(func(ctx context.Context, id uuid.UUID, status string) error {
		err := svc.RecordPayment(ctx, id, status)
		if errors.Is(err, scheduling.ErrNotFound) {
			return fmt.Errorf("%w: %s", payments.ErrUnknownAppointment, id)
		}
		return err
	})
}

// server is the assembled HTTP application.
type server struct {
	echo    *echo.Echo
	service *scheduling.Service
	closers []func()
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, clk clock.Clock) (*server, error) {
	srv := &server{}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bm := metrics.NewBookingMetrics(reg)

	retry := scheduling.RetryPolicy{
		MaxAttempts: cfg.ReserveMaxAttempts,
		BaseBackoff: cfg.ReserveBackoff,
		Clock:       clk,
		OnRetry: func(attempt int, err error) {
			bm.ObserveRetry()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying ledger operation")
		},
	}

	// Storage
	st, err := openStores(ctx, cfg, clk, retry)
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, st.Close)
	logger.Info().Str("storage", cfg.Storage).Msg("storage ready")

	// Slot cache
	var slotCache cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, slot cache disabled")
		} else {
			slotCache = cache.NewRedis(client, "booking")
			srv.closers = append(srv.closers, func() { _ = client.Close() })
			logger.Info().Msg("connected to redis")
		}
	}

	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	srv.service = scheduling.NewService(st.profiles, st.ledger, clk, schedulingConfig(cfg),
		scheduling.WithCache(slotCache),
		scheduling.WithMetrics(bm),
		scheduling.WithLogger(logger),
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Probes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if st.pool != nil {
		pool := st.pool
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Payment processor callbacks
	if cfg.StripeWebhookSecret != "" {
		payments.NewStripeWebhook(cfg.StripeWebhookSecret, paymentRecorder(srv.service), logger).RegisterRoutes(e)
	} else {
		logger.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, payment webhook disabled")
	}

	// API
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	api := e.Group("/api/v1", auth.Middleware(verifier, auth.Skipper), middleware.RateLimit(rl))
	scheduling.NewHandler(srv.service, logger).RegisterRoutes(api)

	srv.echo = e
	return srv, nil
}
