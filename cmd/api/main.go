// Package main is the entry point for the Plainly API server.
//
// It loads configuration, connects the pgx pool, wires the repositories and
// external provider clients, and serves the v1 API through the core chassis
// (middleware, routing, health checks). Provider clients fall back to logging
// stubs when their credentials are absent, so the server boots in local
// development against nothing but a database.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"plainly/internal/api/handlers"
	"plainly/internal/config"
	"plainly/internal/core"
	"plainly/internal/db"
	"plainly/internal/external"
	"plainly/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("plainly API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	subscribers := db.NewSubscriberRepository(pool)
	broadcasts := db.NewBroadcastRepository(pool, logger)
	sequences := db.NewSequenceRepository(pool)
	pages := db.NewLandingPageRepository(pool)
	profiles := db.NewProfileRepository(pool, logger)
	jobs := db.NewJobRepository(pool)
	events := db.NewEventRepository(pool)

	// External providers, stubbed when credentials are absent.
	httpClient := &http.Client{Timeout: 15 * time.Second}

	var mail queue.MailProvider
	if cfg.Mail.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set, using stub mail provider")
		mail = external.NewStubMailProvider(logger)
	} else {
		mail = external.NewResendClient(httpClient, external.ResendClientConfig{
			APIKey:         cfg.Mail.ResendAPIKey.Unmask(),
			VerifiedDomain: cfg.Mail.VerifiedDomain,
			Logger:         logger,
		})
	}

	var billing external.BillingService
	var verifier external.WebhookVerifier
	if cfg.Billing.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, using stub billing service")
		billing = external.NewStubBillingService(logger)
		verifier = external.NewStubWebhookVerifier(logger)
	} else {
		billing = external.NewStripeClient(httpClient, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		})
		verifier = &external.StripeVerifier{}
	}

	// The manual trigger runs the same delivery cycle as the scheduled
	// runners. No metrics recorder here; only the worker emits CloudWatch
	// datapoints.
	processor := queue.NewProcessor(queue.ProcessorParams{
		Jobs:            jobs,
		Broadcasts:      broadcasts,
		Events:          events,
		Mail:            mail,
		Config:          cfg.Queue,
		DefaultFromName: cfg.Mail.DefaultFromName,
		Logger:          logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	// Domain handlers.
	subscriberHandler := handlers.NewSubscriberHandler(subscribers, srv.Validator, logger)
	broadcastHandler := handlers.NewBroadcastHandler(broadcasts, srv.Validator, logger)
	sequenceHandler := handlers.NewSequenceHandler(sequences, srv.Validator, logger)
	pageHandler := handlers.NewLandingPageHandler(pages, subscribers, srv.Validator, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(subscribers, events, logger)
	billingHandler := handlers.NewBillingHandler(billing, profiles, cfg.Server.DashboardURL, srv.Validator, logger)
	queueHandler := handlers.NewQueueHandler(processor, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(verifier, profiles, cfg.Billing.StripeWebhookSecret.Unmask(), logger)

	// Dashboard routes require the identity header.
	srv.V1Registrars = append(srv.V1Registrars, func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(core.RequireUser)
			subscriberHandler.RegisterRoutes(r)
			broadcastHandler.RegisterRoutes(r)
			sequenceHandler.RegisterRoutes(r)
			pageHandler.RegisterRoutes(r)
			analyticsHandler.RegisterRoutes(r)
			billingHandler.RegisterRoutes(r)
		})
	})

	// Anonymous surfaces: published landing pages, the Stripe webhook, and
	// the queue trigger invoked by schedulers that carry no identity header.
	srv.V1Registrars = append(srv.V1Registrars,
		pageHandler.RegisterPublicRoutes,
		webhookHandler.RegisterRoutes,
		queueHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// serveHTTP runs the standard HTTP server with graceful shutdown.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
