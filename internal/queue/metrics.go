package queue

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"plainly/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits per-cycle delivery counters to CloudWatch:
// EmailsProcessed, EmailsSent, and EmailsFailed, one datum each per cycle.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordCycle publishes the cycle counters. Metric failures are logged, never
// propagated; losing a datapoint must not fail a delivery cycle.
func (m *CloudWatchMetrics) RecordCycle(ctx context.Context, result types.CycleResult) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("EmailsProcessed"),
				Value:      aws.Float64(float64(result.Processed)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("EmailsSent"),
				Value:      aws.Float64(float64(result.Sent)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("EmailsFailed"),
				Value:      aws.Float64(float64(result.Failed)),
				Unit:       cwtypes.StandardUnitCount,
			},
		},
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish cycle metrics", "error", err)
	}
}

// NoopMetrics discards all metrics. Used when no namespace is configured.
type NoopMetrics struct{}

// RecordCycle does nothing.
func (NoopMetrics) RecordCycle(context.Context, types.CycleResult) {}

var (
	_ MetricsRecorder = (*CloudWatchMetrics)(nil)
	_ MetricsRecorder = NoopMetrics{}
)
