// Package router classifies one inbound unit of work (an HTTP-shaped
// request or a queue batch envelope) and dispatches it to the pipeline.
//
// Classification is a closed tagged variant computed once per request and
// matched exhaustively; no string comparisons leak past Classify.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/queue"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/storage"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// Route paths.
const (
	PathAlarmEvent  = "/alarmevent"
	PathLatestVideo = "/latestvideo"
	PathSummary     = "/summary"
)

// RouteKind is the closed classification of an HTTP-shaped request.
type RouteKind int

const (
	RouteMalformed RouteKind = iota // missing method or path
	RouteOptions                    // CORS preflight
	RouteAlarm                      // POST alarm ingestion
	RouteLatestVideo
	RouteSummary
	RouteUnsupported // known shape, unsupported method/path
)

// Classify computes the RouteKind for a request. It is total: every request
// maps to exactly one kind.
func Classify(req *events.APIGatewayProxyRequest) RouteKind {
	if req.HTTPMethod == "" || req.Path == "" {
		return RouteMalformed
	}
	if req.HTTPMethod == http.MethodOptions {
		return RouteOptions
	}
	switch {
	case req.HTTPMethod == http.MethodPost && req.Path == PathAlarmEvent:
		return RouteAlarm
	case req.HTTPMethod == http.MethodGet && req.Path == PathLatestVideo:
		return RouteLatestVideo
	case req.HTTPMethod == http.MethodGet && req.Path == PathSummary:
		return RouteSummary
	default:
		return RouteUnsupported
	}
}

// Enqueuer accepts a validated alarm for asynchronous processing.
// Satisfied by queue.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, alarm *types.AlarmEvent) (string, error)
}

// BatchProcessor handles a queue batch envelope. Satisfied by queue.Service.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, event *events.SQSEvent) int
}

// ArtifactReader serves the read-only query routes.
// Satisfied by storage.ArtifactStore.
type ArtifactReader interface {
	LatestVideo(ctx context.Context) (storage.ObjectInfo, error)
	Summarize(ctx context.Context, days int) ([]storage.DaySummary, error)
}

// Router dispatches classified requests.
type Router struct {
	enqueuer Enqueuer
	batches  BatchProcessor
	reader   ArtifactReader
	logger   *slog.Logger
}

// New creates a Router.
func New(enqueuer Enqueuer, batches BatchProcessor, reader ArtifactReader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		enqueuer: enqueuer,
		batches:  batches,
		reader:   reader,
		logger:   logger,
	}
}

// Handle is the single entrypoint for one raw invocation payload. A queue
// batch envelope takes precedence over the HTTP shape; everything else is
// dispatched by RouteKind.
func (r *Router) Handle(ctx context.Context, payload json.RawMessage) (events.APIGatewayProxyResponse, error) {
	if batch, ok := queue.DetectBatch(payload); ok {
		r.batches.ProcessBatch(ctx, batch)
		// Individual record failures are observable via logs, dead-letter,
		// and notifications; the batch itself always acknowledges.
		return jsonResponse(http.StatusOK, map[string]string{"status": "batch processed"}), nil
	}

	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorResponse(types.NewAppError(
			types.ErrCodeValidationBadRequest,
			"request payload is not a recognized invocation shape",
			err,
		)), nil
	}

	ctx = types.WithCorrelationID(ctx, uuid.New().String())

	switch Classify(&req) {
	case RouteOptions:
		return corsPreflightResponse(), nil
	case RouteAlarm:
		return r.handleAlarm(ctx, &req), nil
	case RouteLatestVideo:
		return r.handleLatestVideo(ctx), nil
	case RouteSummary:
		return r.handleSummary(ctx), nil
	case RouteUnsupported:
		return errorResponse(types.NewAppError(
			types.ErrCodeRouteUnsupported,
			"method not allowed for this resource",
			nil,
		)), nil
	case RouteMalformed:
		return errorResponse(types.NewAppError(
			types.ErrCodeValidationBadRequest,
			"request is missing a method or path",
			nil,
		)), nil
	default:
		return errorResponse(types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"unhandled route kind",
			nil,
		)), nil
	}
}

// handleAlarm parses and validates the alarm body, then hands it to the
// queue for delayed processing. 202 signals acceptance, not completion.
func (r *Router) handleAlarm(ctx context.Context, req *events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if req.Body == "" {
		return errorResponse(types.NewAppError(
			types.ErrCodeValidationNilAlarm,
			"request body is empty",
			nil,
		))
	}

	var alarm types.AlarmEvent
	if err := json.Unmarshal([]byte(req.Body), &alarm); err != nil {
		return errorResponse(types.NewAppError(
			types.ErrCodeValidationMalformedBody,
			"request body is not a valid alarm event",
			err,
		))
	}
	if appErr := alarm.Validate(); appErr != nil {
		return errorResponse(appErr)
	}

	msgID, err := r.enqueuer.Enqueue(ctx, &alarm)
	if err != nil {
		r.logger.ErrorContext(ctx, "alarm enqueue failed", "error", err.Error())
		return errorResponse(err)
	}

	return jsonResponse(http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"messageId": msgID,
	})
}

func (r *Router) handleLatestVideo(ctx context.Context) events.APIGatewayProxyResponse {
	info, err := r.reader.LatestVideo(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "latest video lookup failed", "error", err.Error())
		return errorResponse(err)
	}
	return jsonResponse(http.StatusOK, info)
}

func (r *Router) handleSummary(ctx context.Context) events.APIGatewayProxyResponse {
	summaries, err := r.reader.Summarize(ctx, 7)
	if err != nil {
		r.logger.ErrorContext(ctx, "summary aggregation failed", "error", err.Error())
		return errorResponse(err)
	}
	return jsonResponse(http.StatusOK, summaries)
}

// --- Response helpers ---

// corsHeaders are attached to every response; the ingestion endpoint is
// called cross-origin by the controller's webhook configuration UI.
func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
	}
}

func corsPreflightResponse() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    corsHeaders(),
	}
}

func jsonResponse(status int, data any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(data)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    corsHeaders(),
			Body:       `{"error":{"code":"internal_unexpected_error","message":"failed to marshal response"}}`,
		}
	}
	headers := corsHeaders()
	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(body),
	}
}

// errorResponse writes a structured error body. AppErrors keep their code
// and message; anything else becomes a generic 500 so internal details never
// leak to the caller.
func errorResponse(err error) events.APIGatewayProxyResponse {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"an unexpected error occurred",
			err,
		)
	}
	return jsonResponse(appErr.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"code":    string(appErr.Code),
			"message": appErr.Message,
		},
	})
}
