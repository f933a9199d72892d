// Package main is the entrypoint for the alarm processor Lambda function.
//
// One function handles both invocation shapes:
//   - HTTP-shaped requests (alarm ingestion, query routes, CORS preflight)
//   - SQS batch envelopes carrying previously-enqueued alarms
//
// This file handles dependency wiring (cold start) and delegates all
// business logic to the internal packages.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/credentials"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/metrics"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/notify"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/pipeline"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/protect"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/queue"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/router"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/storage"
)

func logLevel(raw string) slog.Level {
	switch raw {
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

// buildRouter wires the full dependency graph from configuration. Runs once
// per cold start.
func buildRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*router.Router, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, err
	}

	store := storage.NewArtifactStore(s3.NewFromConfig(awsCfg), cfg.Storage.Bucket, logger)
	creds := credentials.NewProvider(secretsmanager.NewFromConfig(awsCfg), cfg.Storage.CredentialsSecretARN, logger)
	notifier := notify.NewNotifier(sesv2.NewFromConfig(awsCfg), cfg.Notify, logger)
	publisher := metrics.NewPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Metrics.Namespace)

	fetcher := protect.NewFetcher(
		protect.NewClient(&http.Client{Timeout: cfg.Video.FetchTimeout}, protect.DefaultRetryPolicy()),
		creds,
		cfg.Video,
		logger,
	)

	sqsClient := sqs.NewFromConfig(awsCfg)

	// The dead-letter side of the queue service is wired into the
	// orchestrator, while the processing side drives the orchestrator; both
	// live on the same Service, so build it in two steps.
	dlqSender := queue.NewService(sqsClient, nil, cfg.Queue, logger)

	orchestrator := pipeline.New(
		store,
		creds,
		fetcher,
		dlqSender,
		notifier,
		publisher,
		cfg.Devices,
		logger,
	)

	queueService := queue.NewService(sqsClient, orchestrator, cfg.Queue, logger)

	return router.New(queueService, queueService, store, logger), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})).With("service", cfg.Service)

	logger.Info("alarm processor initializing (cold start)",
		"environment", cfg.Environment,
		"bucket", cfg.Storage.Bucket,
		"alarm_queue", cfg.Queue.AlarmQueueURL,
		"dlq_configured", cfg.Queue.DlqURL != "",
	)

	ctx := context.Background()
	r, err := buildRouter(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		os.Exit(1)
	}

	// Local mode: read one JSON event from stdin instead of starting the
	// Lambda runtime. Enables local integration testing without the RIE.
	// Usage: echo '{"httpMethod":"POST",...}' | go run ./cmd/alarm-processor
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil || len(payload) == 0 {
			logger.Error("no event received on stdin", "error", err)
			os.Exit(1)
		}
		resp, err := r.Handle(ctx, json.RawMessage(payload))
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		logger.Info("handler execution completed", "status", resp.StatusCode, "body", resp.Body)
		return
	}

	lambda.Start(r.Handle)
}
