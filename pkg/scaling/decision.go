package scaling

import (
	"time"

	"github.com/truefoundry/bigtable-autoscaler/pkg/config"
)

// ScaleAction is the outcome of one tick.
type ScaleAction string

const (
	ScaleUp     ScaleAction = "scale-up"
	ScaleDown   ScaleAction = "scale-down"
	NoChange    ScaleAction = "none"
	AtMax       ScaleAction = "at-max"
	AtMin       ScaleAction = "at-min"
	CoolingDown ScaleAction = "cooling-down"
)

// Decision describes what a tick observed and what it did about it.
type Decision struct {
	Action      ScaleAction
	CPU         float64
	CurrentSize int
	TargetSize  int
	// ResumeAt is set for CoolingDown: the first instant the next adjustment may happen.
	ResumeAt time.Time
}

// Resizes reports whether the decision writes a new node count.
func (d Decision) Resizes() bool {
	return d.Action == ScaleUp || d.Action == ScaleDown
}

// Decide maps a CPU sample and the current node count to an action. Thresholds are strict, so a
// sample equal to MaxCPU or MinCPU is in band. Resize targets are clamped to [MinNodes, MaxNodes]
// on both ends, even when the observed size was set outside them by hand.
func Decide(cfg config.ScalerConfig, cpu float64, size int) Decision {
	d := Decision{
		Action:      NoChange,
		CPU:         cpu,
		CurrentSize: size,
		TargetSize:  size,
	}

	switch {
	case cpu > cfg.MaxCPU:
		if size >= cfg.MaxNodes {
			d.Action = AtMax
			return d
		}
		d.Action = ScaleUp
		d.TargetSize = clamp(size+cfg.IncreaseStep, cfg.MinNodes, cfg.MaxNodes)
	case cpu < cfg.MinCPU:
		if size <= cfg.MinNodes {
			d.Action = AtMin
			return d
		}
		d.Action = ScaleDown
		d.TargetSize = clamp(size-cfg.DecreaseStep, cfg.MinNodes, cfg.MaxNodes)
	}
	return d
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
