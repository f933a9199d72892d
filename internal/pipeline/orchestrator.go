// Package pipeline implements the alarm processing state machine:
//
//	Received → Validated → KeysDerived → EventStored →
//	[VideoAttempted → VideoStored] → Completed
//
// Validation, configuration, credentials, and event-storage failures are
// fatal and abort the current alarm. Video retrieval and upload failures are
// recoverable: the alarm still completes, degraded, and is escalated to the
// dead-letter queue with an operator notification.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/keys"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/protect"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// FailureReasonNoVideo tags dead-letter sends for alarms whose video branch
// completed with failure.
const FailureReasonNoVideo = "NoVideoFilesDownloaded"

// ArtifactStore is the blob-store contract the orchestrator needs.
// Satisfied by storage.ArtifactStore.
type ArtifactStore interface {
	Bucket() string
	Put(ctx context.Context, key string, body []byte, contentType string, infrequentAccess bool) error
	PutFile(ctx context.Context, key, localPath string) error
}

// CredentialsSource resolves controller credentials.
// Satisfied by credentials.Provider.
type CredentialsSource interface {
	Get(ctx context.Context) (types.Credentials, error)
}

// DeadLetterSender forwards an alarm that produced no video artifact.
// Satisfied by queue.Service.
type DeadLetterSender interface {
	SendToDeadLetter(ctx context.Context, alarm *types.AlarmEvent, reason string) (string, error)
}

// FailureNotifier alerts operators about a degraded alarm.
// Satisfied by notify.Notifier.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, alarm *types.AlarmEvent, reason, correlationID string) error
}

// MetricsPublisher emits pipeline telemetry. Satisfied by metrics.Publisher.
type MetricsPublisher interface {
	PublishAlarmProcessed(ctx context.Context, outcome string) error
	PublishVideoDownloadFailed(ctx context.Context, device string) error
}

// Orchestrator drives one alarm through the processing state machine.
type Orchestrator struct {
	store       ArtifactStore
	credentials CredentialsSource
	fetcher     protect.VideoFetcher
	deadLetter  DeadLetterSender
	notifier    FailureNotifier
	metrics     MetricsPublisher
	devices     config.DeviceNameMap
	logger      *slog.Logger
}

// New creates an Orchestrator. deadLetter, notifier, and metrics may be nil;
// the corresponding escalations are then skipped with a log entry.
func New(
	store ArtifactStore,
	credentials CredentialsSource,
	fetcher protect.VideoFetcher,
	deadLetter DeadLetterSender,
	notifier FailureNotifier,
	metrics MetricsPublisher,
	devices config.DeviceNameMap,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		credentials: credentials,
		fetcher:     fetcher,
		deadLetter:  deadLetter,
		notifier:    notifier,
		metrics:     metrics,
		devices:     devices,
		logger:      logger,
	}
}

// Process runs one alarm through the state machine and returns the success
// response built from the first trigger, or the fatal error that aborted it.
func (o *Orchestrator) Process(ctx context.Context, alarm *types.AlarmEvent) (*types.ProcessingResult, error) {
	correlationID := types.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
		ctx = types.WithCorrelationID(ctx, correlationID)
	}
	logger := o.logger.With("correlation_id", correlationID)

	// Validated
	if outcome := o.validate(alarm); outcome.Status == types.StepFatal {
		return nil, outcome.Err
	}
	trigger := &alarm.Triggers[0]
	logger = logger.With("event_id", trigger.EventID, "device", trigger.Device)

	// Configuration check
	if o.store.Bucket() == "" {
		return nil, types.NewAppError(
			types.ErrCodeConfigMissingBucket,
			"artifact store bucket not configured",
			nil,
		)
	}

	// Credentials resolution: fatal for this alarm, never retried inline.
	if _, err := o.credentials.Get(ctx); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, types.NewAppError(
			types.ErrCodeCredentialsUnavailable,
			"controller credentials could not be resolved",
			err,
		)
	}

	// KeysDerived
	pair := keys.Derive(trigger.EventID, trigger.Device, alarm.Timestamp)
	trigger.Date = pair.Date
	trigger.EventKey = pair.EventKey
	trigger.VideoKey = pair.VideoKey
	trigger.DeviceName = o.devices.Resolve(trigger.Device)

	// EventStored
	if outcome := o.storeEvent(ctx, alarm, pair.EventKey); outcome.Status == types.StepFatal {
		return nil, outcome.Err
	}
	logger.InfoContext(ctx, "event metadata stored", "event_key", pair.EventKey)

	// Video branch
	result := &types.ProcessingResult{
		Outcome:    types.OutcomeCompleted,
		EventID:    trigger.EventID,
		EventKey:   pair.EventKey,
		DeviceName: trigger.DeviceName,
		Timestamp:  alarm.Timestamp,
	}

	if alarm.EventPath == "" {
		// Intentional skip, observably distinct from a failure.
		logger.InfoContext(ctx, "video branch skipped: alarm has no eventPath")
	} else {
		outcome := o.processVideo(ctx, logger, alarm, trigger, pair.VideoKey)
		if outcome.Status == types.StepRecoverable {
			logger.WarnContext(ctx, "video branch failed, alarm completes without video",
				"error", outcome.Err.Error(),
			)
			result.Outcome = types.OutcomeCompletedWithoutVideo
			o.escalateNoVideo(ctx, logger, alarm, correlationID)
			o.publishVideoFailed(ctx, logger, trigger.Device)
		}
	}

	o.publishProcessed(ctx, logger, string(result.Outcome))

	logger.InfoContext(ctx, "alarm processing completed", "outcome", string(result.Outcome))
	return result, nil
}

// validate checks the structural invariants of the inbound alarm.
func (o *Orchestrator) validate(alarm *types.AlarmEvent) types.StepOutcome {
	if appErr := alarm.Validate(); appErr != nil {
		return types.Fatal(appErr)
	}
	return types.Ok()
}

// storeEvent persists the sanitized alarm (Sources/Conditions stripped) at
// eventKey with the infrequent-access storage hint.
func (o *Orchestrator) storeEvent(ctx context.Context, alarm *types.AlarmEvent, eventKey string) types.StepOutcome {
	sanitized := alarm.Sanitized()
	body, err := json.Marshal(&sanitized)
	if err != nil {
		return types.Fatal(types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize event artifact",
			err,
		))
	}

	if err := o.store.Put(ctx, eventKey, body, "application/json", true); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return types.Fatal(appErr)
		}
		return types.Fatal(types.NewAppError(types.ErrCodeStorageWrite, "event artifact write failed", err))
	}
	return types.Ok()
}

// processVideo runs VideoAttempted → VideoStored. The temp file returned by
// the fetcher is deleted on every exit path.
func (o *Orchestrator) processVideo(ctx context.Context, logger *slog.Logger, alarm *types.AlarmEvent, trigger *types.Trigger, videoKey string) types.StepOutcome {
	localPath, err := o.fetcher.Fetch(ctx, *trigger, alarm.EventPath, alarm.Timestamp)
	if err != nil {
		return types.Recoverable(asAppError(err, types.ErrCodeVideoFetch, "video retrieval failed"))
	}
	defer o.cleanupTempFile(logger, localPath)

	if err := o.store.PutFile(ctx, videoKey, localPath); err != nil {
		return types.Recoverable(asAppError(err, types.ErrCodeVideoUpload, "video upload failed"))
	}

	logger.InfoContext(ctx, "video artifact stored", "video_key", videoKey)
	return types.Ok()
}

// cleanupTempFile removes the fetched video file. Removal failure is logged
// only; a leaked scratch file must not alter the pipeline outcome.
func (o *Orchestrator) cleanupTempFile(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove video temp file", "path", path, "error", err.Error())
	}
}

// escalateNoVideo forwards the degraded alarm to the dead-letter queue and
// notifies operators. Neither failure changes the alarm's outcome.
func (o *Orchestrator) escalateNoVideo(ctx context.Context, logger *slog.Logger, alarm *types.AlarmEvent, correlationID string) {
	if o.deadLetter == nil {
		logger.WarnContext(ctx, "dead-letter sender not configured, skipping escalation")
	} else if msgID, err := o.deadLetter.SendToDeadLetter(ctx, alarm, FailureReasonNoVideo); err != nil {
		logger.ErrorContext(ctx, "dead-letter send failed", "error", err.Error())
	} else {
		logger.InfoContext(ctx, "alarm forwarded to dead-letter queue",
			"reason", FailureReasonNoVideo,
			"message_id", msgID,
		)
	}

	if o.notifier == nil {
		return
	}
	if err := o.notifier.NotifyFailure(ctx, alarm, FailureReasonNoVideo, correlationID); err != nil {
		logger.ErrorContext(ctx, "failure notification could not be sent", "error", err.Error())
	}
}

func (o *Orchestrator) publishProcessed(ctx context.Context, logger *slog.Logger, outcome string) {
	if o.metrics == nil {
		return
	}
	if err := o.metrics.PublishAlarmProcessed(ctx, outcome); err != nil {
		logger.WarnContext(ctx, "metric publish failed", "metric", "AlarmProcessed", "error", err.Error())
	}
}

func (o *Orchestrator) publishVideoFailed(ctx context.Context, logger *slog.Logger, device string) {
	if o.metrics == nil {
		return
	}
	if err := o.metrics.PublishVideoDownloadFailed(ctx, device); err != nil {
		logger.WarnContext(ctx, "metric publish failed", "metric", "VideoDownloadFailed", "error", err.Error())
	}
}

// asAppError returns err as an *AppError, wrapping it under code when it is
// not one already.
func asAppError(err error, code types.ErrorCode, msg string) *types.AppError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(code, fmt.Sprintf("%s: %v", msg, err), err)
}
