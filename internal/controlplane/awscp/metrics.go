// File: internal/controlplane/awscp/metrics.go
// Brief: CloudWatch-backed MetricsReader for the monitoring report.

package awscp

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/userhub/opsctl/internal/controlplane"
)

// Metrics implements controlplane.MetricsReader against the Lambda
// namespace for one function.
type Metrics struct {
	client   *cloudwatch.Client
	function string
}

// NewMetrics wraps a CloudWatch client for one function's metrics.
func NewMetrics(client *cloudwatch.Client, function string) *Metrics {
	return &Metrics{client: client, function: function}
}

func (m *Metrics) Read(ctx context.Context, start, end time.Time) (controlplane.MetricsWindow, error) {
	window := controlplane.MetricsWindow{Start: start, End: end}

	invocations, err := m.sum(ctx, "Invocations", start, end)
	if err != nil {
		return window, err
	}
	window.Invocations = int64(invocations)

	errCount, err := m.sum(ctx, "Errors", start, end)
	if err != nil {
		return window, err
	}
	window.Errors = int64(errCount)

	avg, err := m.average(ctx, "Duration", start, end)
	if err != nil {
		return window, err
	}
	window.AvgLatencyMs = avg
	return window, nil
}

func (m *Metrics) sum(ctx context.Context, metric string, start, end time.Time) (float64, error) {
	out, err := m.stats(ctx, metric, start, end, cwtypes.StatisticSum)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, dp := range out {
		if dp.Sum != nil {
			total += *dp.Sum
		}
	}
	return total, nil
}

func (m *Metrics) average(ctx context.Context, metric string, start, end time.Time) (float64, error) {
	out, err := m.stats(ctx, metric, start, end, cwtypes.StatisticAverage)
	if err != nil {
		return 0, err
	}
	var total float64
	var n int
	for _, dp := range out {
		if dp.Average != nil {
			total += *dp.Average
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

func (m *Metrics) stats(ctx context.Context, metric string, start, end time.Time, stat cwtypes.Statistic) ([]cwtypes.Datapoint, error) {
	period := int32(end.Sub(start) / time.Second)
	if period < 60 {
		period = 60
	}
	// Round up to a whole minute as CloudWatch requires.
	period = (period + 59) / 60 * 60
	out, err := m.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/Lambda"),
		MetricName: aws.String(metric),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String("FunctionName"),
			Value: aws.String(m.function),
		}},
		StartTime:  aws.Time(start),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(period),
		Statistics: []cwtypes.Statistic{stat},
	})
	if err != nil {
		return nil, classify("read "+metric+" metrics", err)
	}
	return out.Datapoints, nil
}
