package scaling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/truefoundry/bigtable-autoscaler/internal/prom"
)

// ErrTooManyFailures is returned by Driver.Run once the failure budget is exhausted.
var ErrTooManyFailures = errors.New("too many consecutive scaling failures")

// Ticker runs one scaling step.
type Ticker interface {
	Tick(ctx context.Context) (Decision, error)
}

// Driver calls a Ticker repeatedly with a fixed delay between the end of one tick and the start
// of the next. Ticks never overlap.
type Driver struct {
	ticker      Ticker
	interval    time.Duration
	maxFailures int
	logger      *zap.Logger

	failures int
	healthy  atomic.Bool
}

// NewDriver creates a Driver. maxFailures below 1 is treated as 1, which stops on the first error.
func NewDriver(logger *zap.Logger, ticker Ticker, interval time.Duration, maxFailures int) *Driver {
	if maxFailures < 1 {
		maxFailures = 1
	}
	d := &Driver{
		ticker:      ticker,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger.Named("driver"),
	}
	d.healthy.Store(true)
	return d
}

// Healthy reports whether the last tick succeeded.
func (d *Driver) Healthy() bool {
	return d.healthy.Load()
}

// Run ticks immediately and then every interval until ctx is done or maxFailures ticks fail in a
// row. Cancelling ctx stops the loop after the current tick; the tick itself runs on a context
// that is never cancelled, so an in-flight resize completes. Run returns nil on cancellation.
func (d *Driver) Run(ctx context.Context) error {
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	tickCtx := context.WithoutCancel(ctx)

	d.logger.Info("Starting scaling loop",
		zap.Duration("interval", d.interval),
		zap.Int("maxConsecutiveFailures", d.maxFailures))

	var fatal error
	wait.UntilWithContext(loopCtx, func(context.Context) {
		if err := d.runOnce(tickCtx); err != nil {
			fatal = err
			stop()
		}
	}, d.interval)

	if fatal != nil {
		return fatal
	}
	d.logger.Info("Scaling loop stopped")
	return nil
}

func (d *Driver) runOnce(ctx context.Context) error {
	start := time.Now()
	decision, err := d.ticker.Tick(ctx)
	prom.TickHistogram.Observe(time.Since(start).Seconds())

	if err != nil {
		d.failures++
		d.healthy.Store(false)
		prom.TickCounter.WithLabelValues("error").Inc()
		prom.ConsecutiveFailuresGauge.Set(float64(d.failures))
		if d.failures >= d.maxFailures {
			d.logger.Error("Giving up after consecutive scaling failures", zap.Int("failures", d.failures), zap.Error(err))
			return fmt.Errorf("%w (%d in a row): %w", ErrTooManyFailures, d.failures, err)
		}
		d.logger.Warn("Scaling tick failed, will retry on next tick",
			zap.Int("failures", d.failures),
			zap.Int("maxConsecutiveFailures", d.maxFailures),
			zap.Error(err))
		return nil
	}

	if d.failures > 0 {
		d.logger.Info("Scaling recovered", zap.Int("previousFailures", d.failures))
	}
	d.failures = 0
	d.healthy.Store(true)
	prom.TickCounter.WithLabelValues("success").Inc()
	prom.ConsecutiveFailuresGauge.Set(0)
	d.logger.Debug("Scaling tick done", zap.String("action", string(decision.Action)))
	return nil
}
