package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid scaler configuration")

// ScalerConfig carries the scaling parameters for one cluster. It is a value type and is not
// mutated once built.
type ScalerConfig struct {
	ProjectID  string
	InstanceID string

	MinNodes     int
	MaxNodes     int
	IncreaseStep int
	DecreaseStep int

	// MaxCPU and MinCPU bound the in-band CPU fraction; both ends are inclusive.
	MaxCPU float64
	MinCPU float64

	Cooldown     time.Duration
	TickInterval time.Duration

	// MaxConsecutiveFailures is how many failed ticks in a row the driver tolerates before giving up.
	MaxConsecutiveFailures int
}

// Option overrides one field of the defaults.
type Option func(*ScalerConfig)

// DefaultScalerConfig returns the defaults every other construction path layers over.
func DefaultScalerConfig() ScalerConfig {
	return ScalerConfig{
		MinNodes:               3,
		MaxNodes:               30,
		IncreaseStep:           3,
		DecreaseStep:           3,
		MaxCPU:                 0.7,
		MinCPU:                 0.15,
		Cooldown:               20 * time.Minute,
		TickInterval:           values.DefaultTickInterval,
		MaxConsecutiveFailures: 3,
	}
}

func WithMinNodes(n int) Option { return func(c *ScalerConfig) { c.MinNodes = n } }
func WithMaxNodes(n int) Option { return func(c *ScalerConfig) { c.MaxNodes = n } }

// WithIncreaseStep sets the step added per scale-up; the sign is dropped.
func WithIncreaseStep(n int) Option { return func(c *ScalerConfig) { c.IncreaseStep = abs(n) } }

// WithDecreaseStep sets the step removed per scale-down; the sign is dropped.
func WithDecreaseStep(n int) Option { return func(c *ScalerConfig) { c.DecreaseStep = abs(n) } }

func WithMaxCPU(f float64) Option             { return func(c *ScalerConfig) { c.MaxCPU = f } }
func WithMinCPU(f float64) Option             { return func(c *ScalerConfig) { c.MinCPU = f } }
func WithCooldown(d time.Duration) Option     { return func(c *ScalerConfig) { c.Cooldown = d } }
func WithTickInterval(d time.Duration) Option { return func(c *ScalerConfig) { c.TickInterval = d } }
func WithMaxConsecutiveFailures(n int) Option {
	return func(c *ScalerConfig) { c.MaxConsecutiveFailures = n }
}

// NewScalerConfig layers opts over DefaultScalerConfig and validates the result.
func NewScalerConfig(projectID, instanceID string, opts ...Option) (ScalerConfig, error) {
	cfg := DefaultScalerConfig()
	cfg.ProjectID = projectID
	cfg.InstanceID = instanceID
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.IncreaseStep = abs(cfg.IncreaseStep)
	cfg.DecreaseStep = abs(cfg.DecreaseStep)

	if err := cfg.Validate(); err != nil {
		return ScalerConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural invariants of the configuration.
func (c ScalerConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project id is required", ErrInvalidConfig)
	}
	if c.InstanceID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidConfig)
	}
	if c.MinNodes <= 0 {
		return fmt.Errorf("%w: min nodes must be positive, got %d", ErrInvalidConfig, c.MinNodes)
	}
	if c.MaxNodes < c.MinNodes {
		return fmt.Errorf("%w: max nodes (%d) must be greater than or equal to min nodes (%d)", ErrInvalidConfig, c.MaxNodes, c.MinNodes)
	}
	if c.IncreaseStep < 0 || c.DecreaseStep < 0 {
		return fmt.Errorf("%w: steps must be non-negative", ErrInvalidConfig)
	}
	if !isFraction(c.MinCPU) || !isFraction(c.MaxCPU) {
		return fmt.Errorf("%w: cpu thresholds must be within [0,1], got min=%v max=%v", ErrInvalidConfig, c.MinCPU, c.MaxCPU)
	}
	if c.MinCPU >= c.MaxCPU {
		return fmt.Errorf("%w: min cpu (%v) must be less than max cpu (%v)", ErrInvalidConfig, c.MinCPU, c.MaxCPU)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must be non-negative", ErrInvalidConfig)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval must be non-negative", ErrInvalidConfig)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("%w: max consecutive failures must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func isFraction(f float64) bool {
	return !math.IsNaN(f) && f >= 0 && f <= 1
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
