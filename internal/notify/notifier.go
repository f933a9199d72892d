// Package notify sends operator-facing failure notifications for alarms that
// could not be fully processed. Delivery uses AWS SES v2; authentication is
// handled via IAM roles.
//
// Notification failures are reported to callers but MUST never change a
// pipeline outcome; the orchestrator logs and discards them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/config"
	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// SESAPI defines the subset of the SES v2 client used by the Notifier.
// Extracted for testability.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Notifier sends alarm failure notifications to the configured support
// address.
type Notifier struct {
	api    SESAPI
	cfg    config.NotifyConfig
	logger *slog.Logger
}

// NewNotifier creates a Notifier. An empty SupportEmail in cfg disables
// sending; NotifyFailure then returns a notification error that callers are
// expected to log and drop.
func NewNotifier(api SESAPI, cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		api:    api,
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyFailure emails the support address about an alarm that produced no
// video artifact, carrying the failure reason, a correlation id, and the
// alarm context needed to locate the event for manual recovery.
func (n *Notifier) NotifyFailure(ctx context.Context, alarm *types.AlarmEvent, reason, correlationID string) error {
	if n.cfg.SupportEmail == "" {
		return types.NewAppError(
			types.ErrCodeNotificationSend,
			"support email address not configured",
			nil,
		)
	}

	subject, bodyText := n.render(alarm, reason, correlationID)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.cfg.FromName, n.cfg.FromAddress)),
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.SupportEmail},
		},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &sestypes.Body{
					Text: &sestypes.Content{
						Data:    aws.String(bodyText),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
		EmailTags: []sestypes.MessageTag{
			{
				Name:  aws.String("CorrelationID"),
				Value: aws.String(correlationID),
			},
		},
	}

	result, err := n.api.SendEmail(ctx, input)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeNotificationSend,
			fmt.Sprintf("failed to send failure notification for reason %s", reason),
			err,
		)
	}

	n.logger.InfoContext(ctx, "failure notification sent",
		"to", n.cfg.SupportEmail,
		"reason", reason,
		"correlation_id", correlationID,
		"message_id", aws.ToString(result.MessageId),
	)
	return nil
}

func (n *Notifier) render(alarm *types.AlarmEvent, reason, correlationID string) (subject, body string) {
	device := ""
	eventID := ""
	if alarm != nil && len(alarm.Triggers) > 0 {
		device = alarm.Triggers[0].Device
		if alarm.Triggers[0].DeviceName != "" {
			device = alarm.Triggers[0].DeviceName
		}
		eventID = alarm.Triggers[0].EventID
	}

	subject = fmt.Sprintf("Alarm processing degraded: %s", reason)

	var ts int64
	if alarm != nil {
		ts = alarm.Timestamp
	}
	body = fmt.Sprintf(
		"An alarm event could not be fully processed.\n\n"+
			"Reason: %s\n"+
			"Correlation ID: %s\n"+
			"Event ID: %s\n"+
			"Device: %s\n"+
			"Alarm timestamp: %d (%s UTC)\n\n"+
			"The event metadata was stored; the video artifact is missing. "+
			"The alarm has been forwarded to the dead-letter queue for manual recovery.\n",
		reason,
		correlationID,
		eventID,
		device,
		ts,
		time.UnixMilli(ts).UTC().Format(time.RFC3339),
	)
	return subject, body
}
