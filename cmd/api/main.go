package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/homeservices/backend/internal/auth"
	"github.com/homeservices/backend/internal/capture"
	"github.com/homeservices/backend/internal/config"
	"github.com/homeservices/backend/internal/dashboard"
	"github.com/homeservices/backend/internal/db"
	"github.com/homeservices/backend/internal/execution"
	"github.com/homeservices/backend/internal/fingerprint"
	"github.com/homeservices/backend/internal/handlers"
	"github.com/homeservices/backend/internal/jobs"
	"github.com/homeservices/backend/internal/ledger"
	"github.com/homeservices/backend/internal/metrics"
	"github.com/homeservices/backend/internal/middleware"
	"github.com/homeservices/backend/internal/repository"
	"github.com/homeservices/backend/internal/router"
	"github.com/homeservices/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	if err := jobs.Migrate(ctx, pool); err != nil {
		slog.Error("River migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Capture is best effort; signups still work without it.
		slog.Warn("Redis unreachable, referral capture degraded", "addr", cfg.RedisAddr, "error", err)
	}

	var locator fingerprint.Locator
	if cfg.GeoIPDBPath != "" {
		geo, err := fingerprint.OpenGeoIP(cfg.GeoIPDBPath)
		if err != nil {
			slog.Warn("GeoIP database unavailable, country enrichment disabled", "path", cfg.GeoIPDBPath, "error", err)
		} else {
			defer geo.Close()
			locator = geo
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	retry := services.RetryPolicy{MaxAttempts: cfg.SettleMaxAttempts, Backoff: cfg.SettleBackoff}

	// Repositories & ledger
	userRepo := repository.NewUserRepo(pool)
	referralRepo := repository.NewReferralRepo(pool)
	settingsRepo := repository.NewSettingsRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	ledgerSvc := ledger.NewService(ledger.NewRepository())

	completer := services.NewCompleter(pool, referralRepo, ledgerSvc, retry, m, logger)

	// Background jobs
	queue, err := jobs.NewQueue(pool,
		execution.NewNotifyReferrerWorker(notificationRepo, execution.LogNotifier{Logger: logger}),
		execution.NewCompleteReferralWorker(completer),
		10, logger)
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	settler := services.NewSettler(services.SettlerDeps{
		DB:            pool,
		Users:         userRepo,
		Referrals:     referralRepo,
		Settings:      settingsRepo,
		Notifications: notificationRepo,
		Ledger:        ledgerSvc,
		InsertNotify:  queue.InsertNotifyReferrerTx,
		Retry:         retry,
		Metrics:       m,
		Logger:        logger,
	})

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	referralHandler := &handlers.ReferralHandler{
		Settler:    settler,
		Collector:  fingerprint.NewRequestCollector(cfg.TrustedProxyHops, locator, logger),
		Captures:   capture.NewStore(rdb, cfg.CaptureTTL),
		Links:      services.NewLinkBuilder(cfg.PublicBaseURL, userRepo),
		Referrals:  referralRepo,
		Validator:  validator,
		CaptureTTL: cfg.CaptureTTL,
		Metrics:    m,
		Logger:     logger,
	}
	internalHandler := &handlers.InternalHandler{
		Pool:      pool,
		Completer: completer,
		Queue:     queue,
		Ledger:    ledgerSvc,
		Validator: validator,
		Logger:    logger,
	}
	if cfg.ServiceToken == "" {
		slog.Warn("SERVICE_TOKEN not set, /internal/v1 endpoints will reject every request")
	}

	apiRouter := router.New(router.Config{
		Referrals:    referralHandler,
		Internal:     internalHandler,
		Wallet:       dashboard.NewHandler(userRepo, walletRepo, logger),
		Tokens:       auth.NewService(cfg.JWTSecret),
		ServiceToken: cfg.ServiceToken,
		SignupLimit:  middleware.NewIPRateLimiter(ctx, cfg.SignupRateRPS, cfg.SignupRateBurst, 10*time.Minute),
		ProxyHops:    cfg.TrustedProxyHops,
		Metrics:      m,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/internal/", apiRouter)
	RegisterOpsRoutes(mux, pool, rdb, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Service-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(context.Background())
	defer stopRiver()
	if err := queue.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown failed", "error", err)
	}
}
