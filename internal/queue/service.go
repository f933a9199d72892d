// Package queue decouples fast alarm acknowledgment from slow processing.
// Inbound alarms are serialized onto an SQS queue with a configured delay;
// a later Lambda invocation receives them back as a batch envelope and runs
// each record through the orchestrator with per-record failure isolation.
// Alarms that produce no video artifact are forwarded to a dead-letter queue
// with diagnostic attributes for operator recovery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// sqsEventSource is the event-source tag SQS stamps on each record of a
// batch envelope.
const sqsEventSource = "aws:sqs"

// Dead-letter message attribute names (wire contract).
const (
	AttrFailureReason     = "FailureReason"
	AttrOriginalTimestamp = "OriginalTimestamp"
	AttrRetryAttempt      = "RetryAttempt"
)

// SQSAPI defines the subset of the SQS client used by the service.
// Extracted for testability.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// AlarmProcessor runs one alarm through the pipeline.
// Satisfied by pipeline.Orchestrator.
type AlarmProcessor interface {
	Process(ctx context.Context, alarm *types.AlarmEvent) (*types.ProcessingResult, error)
}

// Service implements the asynchronous queue contract.
type Service struct {
	client    SQSAPI
	processor AlarmProcessor
	cfg       config.QueueConfig
	logger    *slog.Logger
}

// NewService creates a queue Service. The processor may be nil for producers
// that only enqueue (the sync request path); ProcessBatch requires it.
func NewService(client SQSAPI, processor AlarmProcessor, cfg config.QueueConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:    client,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Enqueue serializes the alarm and sends it to the processing queue with the
// configured delay. Returns the queue's message id for the 202 response.
func (s *Service) Enqueue(ctx context.Context, alarm *types.AlarmEvent) (string, error) {
	if s.cfg.AlarmQueueURL == "" {
		return "", types.NewAppError(
			types.ErrCodeConfigMissingQueue,
			"alarm queue URL not configured",
			nil,
		)
	}

	body, err := json.Marshal(alarm)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize alarm for enqueue",
			err,
		)
	}

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(s.cfg.AlarmQueueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: s.cfg.ProcessingDelaySeconds,
	})
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeQueueSend,
			"failed to enqueue alarm for processing",
			err,
		)
	}

	msgID := aws.ToString(out.MessageId)
	s.logger.InfoContext(ctx, "alarm enqueued for delayed processing",
		"message_id", msgID,
		"delay_seconds", s.cfg.ProcessingDelaySeconds,
	)
	return msgID, nil
}

// DetectBatch reports whether the raw payload is a queue-origin batch
// envelope: a records list where every record's event source identifies SQS.
// Malformed or non-batch JSON never errors; it is simply not a batch.
func DetectBatch(payload []byte) (*events.SQSEvent, bool) {
	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, false
	}
	if len(event.Records) == 0 {
		return nil, false
	}
	for _, record := range event.Records {
		if record.EventSource != sqsEventSource {
			return nil, false
		}
	}
	return &event, true
}

// ProcessBatch runs every record of a batch envelope through the orchestrator
// sequentially. A record that fails to deserialize or process is logged and
// skipped; one bad record never aborts the batch. Returns the number of
// failed records for observability only. The batch is acknowledged regardless
// because the queue transport guarantees at-least-once redelivery upstream
// of this pipeline.
func (s *Service) ProcessBatch(ctx context.Context, event *events.SQSEvent) int {
	failed := 0
	for _, record := range event.Records {
		if err := s.processRecord(ctx, record); err != nil {
			failed++
			s.logger.ErrorContext(ctx, "queue record processing failed, continuing batch",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
		}
	}

	s.logger.InfoContext(ctx, "batch processing finished",
		"records", len(event.Records),
		"failed", failed,
	)
	return failed
}

func (s *Service) processRecord(ctx context.Context, record events.SQSMessage) error {
	var alarm types.AlarmEvent
	if err := json.Unmarshal([]byte(record.Body), &alarm); err != nil {
		return fmt.Errorf("record body is not a valid alarm event: %w", err)
	}

	ctx = types.WithCorrelationID(ctx, record.MessageId)
	if count, ok := record.Attributes["ApproximateReceiveCount"]; ok {
		ctx = WithReceiveCount(ctx, count)
	}
	if _, err := s.processor.Process(ctx, &alarm); err != nil {
		return fmt.Errorf("orchestration failed: %w", err)
	}
	return nil
}

// SendToDeadLetter forwards an alarm to the dead-letter queue, tagged with
// the failure reason, the alarm's original timestamp, and a retry counter.
// The attribute set is a wire contract consumed by operator tooling.
func (s *Service) SendToDeadLetter(ctx context.Context, alarm *types.AlarmEvent, reason string) (string, error) {
	if s.cfg.DlqURL == "" {
		return "", types.NewAppError(
			types.ErrCodeConfigMissingDLQ,
			"DLQ URL not configured",
			nil,
		)
	}

	body, err := json.Marshal(alarm)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize alarm for dead-letter",
			err,
		)
	}

	var ts int64
	if alarm != nil {
		ts = alarm.Timestamp
	}

	out, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.cfg.DlqURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			AttrFailureReason: {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
			AttrOriginalTimestamp: {
				DataType:    aws.String("String"),
				StringValue: aws.String(strconv.FormatInt(ts, 10)),
			},
			AttrRetryAttempt: {
				DataType:    aws.String("Number"),
				StringValue: aws.String(retryAttempt(ctx)),
			},
		},
	})
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeQueueSend,
			"failed to send alarm to dead-letter queue",
			err,
		)
	}

	msgID := aws.ToString(out.MessageId)
	s.logger.InfoContext(ctx, "alarm dead-lettered",
		"message_id", msgID,
		"reason", reason,
	)
	return msgID, nil
}

// retryAttempt yields the opaque diagnostic retry counter for dead-letter
// attributes. There is no strict contract upstream; "1" marks a first-seen
// record when no receive count is available.
func retryAttempt(ctx context.Context) string {
	if v, ok := ctx.Value(receiveCountKey).(string); ok && v != "" {
		return v
	}
	return "1"
}

type contextKey string

const receiveCountKey contextKey = "approximate_receive_count"

// WithReceiveCount stores a record's ApproximateReceiveCount so dead-letter
// sends can report it as RetryAttempt.
func WithReceiveCount(ctx context.Context, count string) context.Context {
	return context.WithValue(ctx, receiveCountKey, count)
}

// DeadLetterDepth returns the approximate number of messages currently in
// the dead-letter queue. With no DLQ configured there is nothing to report:
// it returns 0 without error.
func (s *Service) DeadLetterDepth(ctx context.Context) (int, error) {
	if s.cfg.DlqURL == "" {
		return 0, nil
	}

	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.cfg.DlqURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeQueueSend,
			"failed to query dead-letter queue depth",
			err,
		)
	}

	raw := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("queue reported non-numeric depth %q", raw),
			err,
		)
	}
	return depth, nil
}
