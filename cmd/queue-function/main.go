// Package main is the entry point for the Plainly queue function, the AWS
// Lambda variant of the email delivery engine.
//
// Cold start wires the same queue.Processor as the worker and the API's
// manual trigger; each invocation (typically from an EventBridge schedule)
// runs exactly one delivery cycle and returns its counters. With
// APP_ENV=local the binary skips the Lambda runtime and runs one cycle
// directly, which makes the cycle testable without the runtime emulator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"plainly/internal/config"
	"plainly/internal/db"
	"plainly/internal/external"
	"plainly/internal/queue"
)

// cycleOutput is the invocation response, mirroring the manual trigger's
// flat envelope.
type cycleOutput struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
}

// handler runs one delivery cycle per invocation.
type handler struct {
	processor *queue.Processor
	logger    *slog.Logger
}

func (h *handler) Handle(ctx context.Context) (cycleOutput, error) {
	result, err := h.processor.RunCycle(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "delivery cycle failed", "error", err)
		return cycleOutput{}, err
	}

	h.logger.InfoContext(ctx, "delivery cycle complete",
		"processed", result.Processed,
		"sent", result.Sent,
		"failed", result.Failed,
	)
	return cycleOutput{
		Success:   true,
		Processed: result.Processed,
		Sent:      result.Sent,
		Failed:    result.Failed,
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("queue function initializing (cold start)")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect database", "error", err)
		os.Exit(1)
	}

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
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		metrics = queue.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Metrics.Namespace,
			logger,
		)
	}

	h := &handler{
		processor: queue.NewProcessor(queue.ProcessorParams{
			Jobs:            db.NewJobRepository(pool),
			Broadcasts:      db.NewBroadcastRepository(pool, logger),
			Events:          db.NewEventRepository(pool),
			Mail:            mail,
			Metrics:         metrics,
			Config:          cfg.Queue,
			DefaultFromName: cfg.Mail.DefaultFromName,
			Logger:          logger,
		}),
		logger: logger,
	}

	// Local mode: run a single cycle and exit instead of starting the
	// Lambda runtime.
	if cfg.Environment == "local" {
		out, err := h.Handle(ctx)
		pool.Close()
		if err != nil {
			logger.Error("cycle failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("{\"success\":%t,\"processed\":%d,\"sent\":%d,\"failed\":%d}\n",
			out.Success, out.Processed, out.Sent, out.Failed)
		return
	}

	lambda.Start(h.Handle)
}
