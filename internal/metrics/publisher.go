// Package metrics publishes pipeline telemetry to CloudWatch. Metric
// publication is best-effort: failures are logged by callers and never
// affect a pipeline outcome.
package metrics

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI defines the subset of the CloudWatch client used by the
// publisher. Extracted for testability.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher emits pipeline metrics under a configured namespace.
type Publisher struct {
	api       CloudWatchAPI
	namespace string
}

// NewPublisher creates a Publisher for the given namespace.
func NewPublisher(api CloudWatchAPI, namespace string) *Publisher {
	return &Publisher{
		api:       api,
		namespace: namespace,
	}
}

// PublishAlarmProcessed emits AlarmProcessed=1, dimensioned by Outcome
// ("completed" or "completed_without_video").
func (p *Publisher) PublishAlarmProcessed(ctx context.Context, outcome string) error {
	return p.put(ctx, "AlarmProcessed", 1, []cwtypes.Dimension{
		{
			Name:  aws.String("Outcome"),
			Value: aws.String(outcome),
		},
	})
}

// PublishVideoDownloadFailed emits VideoDownloadFailed=1, dimensioned by
// device. Sustained non-zero values drive operator alarms.
func (p *Publisher) PublishVideoDownloadFailed(ctx context.Context, device string) error {
	return p.put(ctx, "VideoDownloadFailed", 1, []cwtypes.Dimension{
		{
			Name:  aws.String("Device"),
			Value: aws.String(device),
		},
	})
}

// PublishDeadLetterDepth emits the current dead-letter queue depth.
func (p *Publisher) PublishDeadLetterDepth(ctx context.Context, depth int) error {
	return p.put(ctx, "DeadLetterDepth", float64(depth), nil)
}

func (p *Publisher) put(ctx context.Context, name string, value float64, dims []cwtypes.Dimension) error {
	_, err := p.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s metric: %w", name, err)
	}
	return nil
}
