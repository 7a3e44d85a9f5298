package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/truefoundry/bigtable-autoscaler/pkg/retry"
)

var (
	// ErrNoCPUSamples is returned when the monitoring backend has no recent sample for the cluster.
	ErrNoCPUSamples = errors.New("no cpu samples in lookback window")
	// ErrInvalidCPUUsage is returned for samples outside [0,1], NaN or infinite.
	ErrInvalidCPUUsage = errors.New("cpu usage outside [0,1]")
)

// Sizer reads and writes the node count of the managed cluster.
type Sizer interface {
	GetClusterSize(ctx context.Context) (int, error)
	// SetClusterSize requests a resize and blocks until the backend acknowledges it.
	SetClusterSize(ctx context.Context, size int) error
}

// CPUSampler returns the most recent CPU load fraction of a cluster.
type CPUSampler interface {
	GetCPUUsage(ctx context.Context, projectID, instanceID string) (float64, error)
}

// Service is the port the scaler drives.
type Service interface {
	Sizer
	CPUSampler
	Close() error
}

// ValidateCPUUsage returns ErrInvalidCPUUsage unless v is a finite fraction.
func ValidateCPUUsage(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidCPUUsage, v)
	}
	return nil
}

type composite struct {
	Sizer
	CPUSampler

	closeOnce sync.Once
	closeErr  error
}

// NewService joins a sizer and a sampler into a Service. Close closes each part that implements
// io.Closer, once.
func NewService(sizer Sizer, sampler CPUSampler) Service {
	return &composite{Sizer: sizer, CPUSampler: sampler}
}

func (c *composite) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if closer, ok := c.Sizer.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
		if closer, ok := c.CPUSampler.(io.Closer); ok && any(c.CPUSampler) != any(c.Sizer) {
			errs = append(errs, closer.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

type retryingService struct {
	Service
	cfg    retry.Config
	logger *zap.Logger
}

// WithReadRetries retries GetClusterSize and GetCPUUsage with backoff. SetClusterSize is passed
// through untouched so the cooldown always starts from a single, completed resize call.
func WithReadRetries(svc Service, cfg retry.Config, logger *zap.Logger) Service {
	return &retryingService{Service: svc, cfg: cfg, logger: logger.Named("clusterRetry")}
}

func (r *retryingService) GetClusterSize(ctx context.Context) (int, error) {
	var size int
	err := retry.WithBackoff(ctx, r.cfg, r.logger, "get cluster size", func() error {
		var err error
		size, err = r.Service.GetClusterSize(ctx)
		return err
	})
	return size, err
}

func (r *retryingService) GetCPUUsage(ctx context.Context, projectID, instanceID string) (float64, error) {
	var usage float64
	err := retry.WithBackoff(ctx, r.cfg, r.logger, "get cpu usage", func() error {
		var err error
		usage, err = r.Service.GetCPUUsage(ctx, projectID, instanceID)
		return err
	})
	return usage, err
}
