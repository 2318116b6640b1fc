// Package main is the entry point for the Plainly queue worker, the
// long-running variant of the email delivery engine.
//
// The worker drives queue.Processor.RunCycle on a cron schedule
// (QUEUE_SCHEDULE, default every minute) and serves a small health endpoint
// so container orchestrators can probe it. When METRIC_NAMESPACE is set the
// worker publishes per-cycle delivery counters to CloudWatch.
//
// Graceful shutdown: on SIGINT/SIGTERM the cron scheduler stops accepting
// new cycles, the in-flight cycle finishes, and the health listener drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"plainly/internal/config"
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

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	logger.Info("plainly queue worker starting",
		"environment", cfg.Environment,
		"schedule", cfg.Queue.Schedule,
		"batch_size", cfg.Queue.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	processor, err := buildProcessor(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	// One cycle at a time: if a cycle overruns the schedule interval the
	// next tick is skipped rather than stacked on top of it.
	var cycleMu sync.Mutex
	runCycle := func() {
		if !cycleMu.TryLock() {
			logger.Warn("previous cycle still running, skipping tick")
			return
		}
		defer cycleMu.Unlock()

		result, err := processor.RunCycle(ctx)
		if err != nil {
			logger.Error("delivery cycle failed", "error", err)
			return
		}
		if result.Processed > 0 {
			logger.Info("delivery cycle complete",
				"processed", result.Processed,
				"sent", result.Sent,
				"failed", result.Failed,
			)
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Queue.Schedule, runCycle); err != nil {
		return fmt.Errorf("invalid queue schedule %q: %w", cfg.Queue.Schedule, err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	scheduler.Start()
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping scheduler")
		// Stop returns a context that completes when the running job exits.
		<-scheduler.Stop().Done()
		return nil
	})

	g.Go(func() error {
		return serveHealth(gCtx, cfg.Server.Port, pool.Ping, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("worker stopped cleanly")
	return nil
}

// buildProcessor wires the delivery engine's dependencies: repositories on
// the shared pool, the mail provider (stubbed without credentials), and the
// optional CloudWatch metrics recorder.
func buildProcessor(ctx context.Context, cfg *config.Config, pool db.DBTX, logger *slog.Logger) (*queue.Processor, error) {
	var mail queue.MailProvider
	if cfg.Mail.ResendAPIKey == "" {
		logger.Warn("RESEND_API_KEY not set, using stub mail provider")
		mail = external.NewStubMailProvider(logger)
	} else {
		mail = external.NewResendClient(
			&http.Client{Timeout: 15 * time.Second},
			external.ResendClientConfig{
				APIKey:         cfg.Mail.ResendAPIKey.Unmask(),
				VerifiedDomain: cfg.Mail.VerifiedDomain,
				Logger:         logger,
			},
		)
	}

	var metrics queue.MetricsRecorder
	if cfg.Metrics.Namespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Metrics.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		metrics = queue.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Metrics.Namespace,
			logger,
		)
	}

	return queue.NewProcessor(queue.ProcessorParams{
		Jobs:            db.NewJobRepository(pool),
		Broadcasts:      db.NewBroadcastRepository(pool, logger),
		Events:          db.NewEventRepository(pool),
		Mail:            mail,
		Metrics:         metrics,
		Config:          cfg.Queue,
		DefaultFromName: cfg.Mail.DefaultFromName,
		Logger:          logger,
	}), nil
}

// serveHealth runs a minimal HTTP listener exposing GET /health backed by a
// database ping. It shuts down when ctx is cancelled.
func serveHealth(ctx context.Context, port string, ping func(context.Context) error, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			logger.Error("health probe failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("health listener started", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("health listener: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
