package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	monitoring "cloud.google.com/go/monitoring/apiv3/v2"
	"cloud.google.com/go/monitoring/apiv3/v2/monitoringpb"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/timestamppb"
	"k8s.io/utils/clock"

	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

// timeSeriesLister is the subset of *monitoring.MetricClient the sampler needs.
type timeSeriesLister interface {
	ListTimeSeries(ctx context.Context, req *monitoringpb.ListTimeSeriesRequest) timeSeriesIterator
	Close() error
}

type timeSeriesIterator interface {
	Next() (*monitoringpb.TimeSeries, error)
}

type metricClient struct {
	*monitoring.MetricClient
}

func (c metricClient) ListTimeSeries(ctx context.Context, req *monitoringpb.ListTimeSeriesRequest) timeSeriesIterator {
	return c.MetricClient.ListTimeSeries(ctx, req)
}

// MonitoringSampler reads the Bigtable cluster CPU load from Cloud Monitoring.
type MonitoringSampler struct {
	client    timeSeriesLister
	clusterID string
	lookback  time.Duration
	clock     clock.PassiveClock
	logger    *zap.Logger
}

var _ CPUSampler = (*MonitoringSampler)(nil)

// NewMonitoringSampler creates a Cloud Monitoring client. clusterID narrows the query to one
// cluster and may be empty.
func NewMonitoringSampler(ctx context.Context, logger *zap.Logger, clusterID string, lookback time.Duration, opts ...option.ClientOption) (*MonitoringSampler, error) {
	client, err := monitoring.NewMetricClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring client: %w", err)
	}
	return newMonitoringSampler(logger, metricClient{client}, clusterID, lookback, clock.RealClock{}), nil
}

func newMonitoringSampler(logger *zap.Logger, client timeSeriesLister, clusterID string, lookback time.Duration, clk clock.PassiveClock) *MonitoringSampler {
	if lookback <= 0 {
		lookback = values.DefaultCPULookback
	}
	return &MonitoringSampler{
		client:    client,
		clusterID: clusterID,
		lookback:  lookback,
		clock:     clk,
		logger:    logger.Named("monitoringSampler"),
	}
}

// GetCPUUsage returns the newest point of the first time series matching the cluster.
func (s *MonitoringSampler) GetCPUUsage(ctx context.Context, projectID, instanceID string) (float64, error) {
	it := s.client.ListTimeSeries(ctx, s.request(projectID, instanceID))
	series, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return 0, fmt.Errorf("instance %s: %w", instanceID, ErrNoCPUSamples)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list time series: %w", err)
	}

	points := series.GetPoints()
	if len(points) == 0 {
		return 0, fmt.Errorf("instance %s: time series has no points: %w", instanceID, ErrNoCPUSamples)
	}
	v := points[0].GetValue().GetDoubleValue()
	s.logger.Debug("CPU sample",
		zap.String("instance", instanceID),
		zap.Float64("cpu", v),
		zap.Time("at", points[0].GetInterval().GetEndTime().AsTime()))
	return v, nil
}

func (s *MonitoringSampler) request(projectID, instanceID string) *monitoringpb.ListTimeSeriesRequest {
	now := s.clock.Now().Truncate(time.Second)
	return &monitoringpb.ListTimeSeriesRequest{
		Name:   "projects/" + projectID,
		Filter: cpuLoadFilter(instanceID, s.clusterID),
		Interval: &monitoringpb.TimeInterval{
			StartTime: timestamppb.New(now.Add(-s.lookback)),
			EndTime:   timestamppb.New(now),
		},
		View: monitoringpb.ListTimeSeriesRequest_FULL,
	}
}

func cpuLoadFilter(instanceID, clusterID string) string {
	filter := fmt.Sprintf("metric.type=%q AND resource.labels.instance=%q", values.CPULoadMetricType, instanceID)
	if clusterID != "" {
		filter += fmt.Sprintf(" AND resource.labels.cluster=%q", clusterID)
	}
	return filter
}

func (s *MonitoringSampler) Close() error {
	return s.client.Close()
}
