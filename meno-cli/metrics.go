package menocli

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/rs/zerolog"
)

const Namespace = "meno-services"

type Metrics struct {
	service    Service
	cloudwatch cloudwatchiface.CloudWatchAPI
	logger     zerolog.Logger
}

func NewMetrics(service Service, cloudwatch cloudwatchiface.CloudWatchAPI) Metrics {
	return Metrics{
		service:    service,
		cloudwatch: cloudwatch,
		logger:     Logger(service),
	}
}

// BuildMetrics creates a CloudWatch backed Metrics using the default AWS
// credential chain.
func BuildMetrics(service Service) Metrics {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	return NewMetrics(service, cloudwatch.New(sess))
}

type MetricName string

const (
	ResponseTimeMetric       MetricName = "ResponseTime"
	ConnectMetric            MetricName = "Connect"
	DisconnectMetric         MetricName = "Disconnect"
	ActionMetric             MetricName = "Action"
	BroadcastDeliveredMetric MetricName = "BroadcastDelivered"
	BroadcastGoneMetric      MetricName = "BroadcastGone"
	BroadcastFailedMetric    MetricName = "BroadcastFailed"
)

type DimensionName string

const (
	ServiceNameDimension    DimensionName = "Service"
	ServiceVersionDimension DimensionName = "Version"
	OperationNameDimension  DimensionName = "OperationName"
	ActionDimension         DimensionName = "Action"
)

func defaultDimensions(service Service) map[DimensionName]string {
	return map[DimensionName]string{
		ServiceNameDimension:    service.Name,
		ServiceVersionDimension: service.Version,
	}
}

func mapToDimensions(ms ...map[DimensionName]string) []*cloudwatch.Dimension {
	var dimensions []*cloudwatch.Dimension
	for _, ds := range ms {
		for k, v := range ds {
			if v == "" {
				continue
			}
			dimensions = append(dimensions, &cloudwatch.Dimension{
				Name:  aws.String(string(k)),
				Value: aws.String(v),
			})
		}
	}
	return dimensions
}

func (m Metrics) put(ctx context.Context, name MetricName, unit string, value float64, dimensions []map[DimensionName]string) {
	if m.cloudwatch == nil {
		return
	}
	_, err := m.cloudwatch.PutMetricDataWithContext(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(Namespace),
		MetricData: []*cloudwatch.MetricDatum{
			{
				MetricName: aws.String(string(name)),
				Timestamp:  aws.Time(time.Now()),
				Unit:       aws.String(unit),
				Value:      aws.Float64(value),
				Dimensions: mapToDimensions(append(dimensions, defaultDimensions(m.service))...),
			},
		},
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("metric", string(name)).Msg("couldn't publish metric")
	}
}

func (m Metrics) Event(ctx context.Context, name MetricName, dimensions ...map[DimensionName]string) {
	m.put(ctx, name, cloudwatch.StandardUnitCount, 1, dimensions)
}

func (m Metrics) Timing(ctx context.Context, name MetricName, start time.Time, dimensions ...map[DimensionName]string) {
	m.put(ctx, name, cloudwatch.StandardUnitMilliseconds, float64(time.Since(start).Milliseconds()), dimensions)
}

func (m Metrics) Gauge(ctx context.Context, name MetricName, value float64, dimensions ...map[DimensionName]string) {
	m.put(ctx, name, cloudwatch.StandardUnitNone, value, dimensions)
}
