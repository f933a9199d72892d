// Package main runs the alarm processing pipeline as a plain HTTP server for
// local development. It adapts incoming HTTP requests into the same
// API-Gateway-shaped payloads the Lambda handler receives, so the full
// routing and processing path is exercised without any Lambda emulation.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

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

const (
	shutdownTimeout   = 10 * time.Second
	dlqDepthInterval  = 5 * time.Minute
	maxRequestBodyLen = 1 << 20
)

type app struct {
	router  *router.Router
	queue   *queue.Service
	metrics *metrics.Publisher
	logger  *slog.Logger
}

// lambdaAdapter converts an HTTP request to the Lambda payload shape, invokes
// the shared handler and writes its response back.
func (a *app) lambdaAdapter(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyLen))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req := events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Body:       string(body),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		http.Error(w, "failed to encode request", http.StatusInternalServerError)
		return
	}

	resp, err := a.router.Handle(r.Context(), payload)
	if err != nil {
		a.logger.Error("handler invocation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

// watchDeadLetterDepth periodically samples the dead-letter queue depth and
// publishes it as a metric, until ctx is cancelled.
func (a *app) watchDeadLetterDepth(ctx context.Context) {
	ticker := time.NewTicker(dlqDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := a.queue.DeadLetterDepth(ctx)
			if err != nil {
				a.logger.Warn("dead-letter depth check failed", "error", err)
				continue
			}
			if err := a.metrics.PublishDeadLetterDepth(ctx, depth); err != nil {
				a.logger.Warn("dead-letter depth publish failed", "error", err)
			}
			if depth > 0 {
				a.logger.Warn("dead-letter queue has pending messages", "depth", depth)
			}
		}
	}
}

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

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return err
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

	a := &app{
		router:  router.New(queueService, queueService, store, logger),
		queue:   queueService,
		metrics: publisher,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Video.FetchTimeout + 30*time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	r.HandleFunc(router.PathAlarmEvent, a.lambdaAdapter)
	r.HandleFunc(router.PathLatestVideo, a.lambdaAdapter)
	r.HandleFunc(router.PathSummary, a.lambdaAdapter)

	if cfg.Queue.DlqURL != "" {
		go a.watchDeadLetterDepth(ctx)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "environment", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
