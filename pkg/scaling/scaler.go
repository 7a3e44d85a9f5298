package scaling

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/truefoundry/bigtable-autoscaler/internal/prom"
	"github.com/truefoundry/bigtable-autoscaler/pkg/cluster"
	"github.com/truefoundry/bigtable-autoscaler/pkg/config"
)

// ClusterService is the part of cluster.Service a Scaler needs.
type ClusterService interface {
	cluster.Sizer
	cluster.CPUSampler
}

// Scaler runs one scaling decision per Tick. It is not safe for concurrent use; the Driver
// serialises ticks.
type Scaler struct {
	cfg     config.ScalerConfig
	service ClusterService
	clock   clock.PassiveClock
	logger  *zap.Logger

	// lastAdjustment is the completion time of the last successful resize. The zero value means
	// no resize has happened, so the first tick is never cooling down.
	lastAdjustment time.Time
}

// NewScaler creates a Scaler. cfg is expected to be validated already.
func NewScaler(cfg config.ScalerConfig, service ClusterService, clk clock.PassiveClock, logger *zap.Logger) *Scaler {
	return &Scaler{
		cfg:     cfg,
		service: service,
		clock:   clk,
		logger:  logger.Named("scaler").With(zap.String("project", cfg.ProjectID), zap.String("instance", cfg.InstanceID)),
	}
}

// LastAdjustment returns when the last successful resize finished.
func (s *Scaler) LastAdjustment() time.Time {
	return s.lastAdjustment
}

// Tick checks cooldown, samples CPU, reads the node count and resizes the cluster if CPU is
// outside [MinCPU, MaxCPU]. While cooling down it performs no IO at all. Errors are logged and
// returned; the cooldown timestamp only moves after a resize completes.
func (s *Scaler) Tick(ctx context.Context) (Decision, error) {
	now := s.clock.Now()
	if now.Sub(s.lastAdjustment) < s.cfg.Cooldown {
		resumeAt := s.lastAdjustment.Add(s.cfg.Cooldown)
		s.logger.Info("Skipping scaling check as cooldown period not met",
			zap.Time("lastAdjustment", s.lastAdjustment),
			zap.Time("resumeAt", resumeAt))
		prom.DecisionCounter.WithLabelValues(string(CoolingDown)).Inc()
		return Decision{Action: CoolingDown, ResumeAt: resumeAt}, nil
	}

	cpu, err := s.service.GetCPUUsage(ctx, s.cfg.ProjectID, s.cfg.InstanceID)
	if err != nil {
		return s.fail("failed to get cpu usage", err)
	}
	if err := cluster.ValidateCPUUsage(cpu); err != nil {
		return s.fail("invalid cpu usage", err)
	}
	prom.CPUUsageGauge.Set(cpu)

	size, err := s.service.GetClusterSize(ctx)
	if err != nil {
		return s.fail("failed to get cluster size", err)
	}
	prom.ClusterSizeGauge.Set(float64(size))

	d := Decide(s.cfg, cpu, size)
	fields := []zap.Field{
		zap.Float64("cpu", cpu),
		zap.Int("currentSize", size),
		zap.Float64("minCPU", s.cfg.MinCPU),
		zap.Float64("maxCPU", s.cfg.MaxCPU),
	}

	switch d.Action {
	case ScaleUp, ScaleDown:
		s.logger.Info("Resizing cluster", append(fields, zap.String("action", string(d.Action)), zap.Int("targetSize", d.TargetSize))...)
		if err := s.service.SetClusterSize(ctx, d.TargetSize); err != nil {
			return s.fail("failed to set cluster size", err)
		}
		s.markAdjusted(s.clock.Now())
		prom.ClusterSizeGauge.Set(float64(d.TargetSize))
		s.logger.Info("Cluster resized", zap.Int("size", d.TargetSize), zap.Time("lastAdjustment", s.lastAdjustment))
	case AtMax:
		s.logger.Info("Wanted to increase cluster size, but max node count is reached", append(fields, zap.Int("maxNodes", s.cfg.MaxNodes))...)
	case AtMin:
		s.logger.Info("Wanted to decrease cluster size, but min node count is reached", append(fields, zap.Int("minNodes", s.cfg.MinNodes))...)
	default:
		s.logger.Info("Cluster CPU is within thresholds", fields...)
	}

	prom.DecisionCounter.WithLabelValues(string(d.Action)).Inc()
	return d, nil
}

func (s *Scaler) fail(msg string, err error) (Decision, error) {
	err = fmt.Errorf("%s: %w", msg, err)
	s.logger.Error("Scaling check failed", zap.Error(err))
	return Decision{}, err
}

// markAdjusted never moves lastAdjustment backwards.
func (s *Scaler) markAdjusted(t time.Time) {
	if t.After(s.lastAdjustment) {
		s.lastAdjustment = t
	}
}
