package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/aws"
	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// CloudWatchPublisher pushes rollup snapshots to a CloudWatch namespace.
type CloudWatchPublisher struct {
	client    aws.CloudWatchAPI
	namespace string
	source    SnapshotFunc
	nowFunc   func() time.Time
}

// NewCloudWatchPublisher returns a publisher reading from source.
func NewCloudWatchPublisher(client aws.CloudWatchAPI, namespace string, source SnapshotFunc) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
		source:    source,
		nowFunc:   time.Now,
	}
}

// Publish sends one snapshot.
func (p *CloudWatchPublisher) Publish(ctx context.Context) error {
	s := p.source()
	now := p.nowFunc()

	data := []cwtypes.MetricDatum{
		datum("OrderCount", float64(s.TotalCount), cwtypes.StandardUnitCount, now),
	}
	for _, st := range orders.AllStatuses {
		d := datum("OrdersByStatus", float64(s.CountByStatus[st]), cwtypes.StandardUnitCount, now)
		d.Dimensions = []cwtypes.Dimension{{Name: awsString("Status"), Value: awsString(string(st))}}
		data = append(data, d)
	}
	revenue, _ := s.TotalRevenue.Float64()
	avg, _ := s.AverageValue.Float64()
	data = append(data,
		datum("Revenue", revenue, cwtypes.StandardUnitNone, now),
		datum("AverageOrderValue", avg, cwtypes.StandardUnitNone, now),
	)

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &p.namespace,
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

// Run publishes every interval until ctx is done. Failures are logged and retried next tick.
func (p *CloudWatchPublisher) Run(ctx context.Context, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				log.Warn("cloudwatch publish failed", "namespace", p.namespace, "error", err)
			}
		}
	}
}

func datum(name string, v float64, unit cwtypes.StandardUnit, at time.Time) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: awsString(name),
		Value:      &v,
		Unit:       unit,
		Timestamp:  &at,
	}
}

func awsString(s string) *string { return &s }
