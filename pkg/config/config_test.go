package config

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultScalerConfig(t *testing.T) {
	cfg := DefaultScalerConfig()
	assert.Equal(t, 3, cfg.MinNodes)
	assert.Equal(t, 30, cfg.MaxNodes)
	assert.Equal(t, 3, cfg.IncreaseStep)
	assert.Equal(t, 3, cfg.DecreaseStep)
	assert.Equal(t, 0.7, cfg.MaxCPU)
	assert.Equal(t, 0.15, cfg.MinCPU)
	assert.Equal(t, 20*time.Minute, cfg.Cooldown)
	assert.Equal(t, 10*time.Second, cfg.TickInterval)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
}

func TestNewScalerConfig(t *testing.T) {
	cfg, err := NewScalerConfig("project", "instance",
		WithMinNodes(5),
		WithMaxNodes(20),
		WithIncreaseStep(-5),
		WithDecreaseStep(-3),
		WithMaxCPU(0.5),
		WithMinCPU(0.2),
		WithCooldown(10*time.Second),
		WithTickInterval(time.Second),
		WithMaxConsecutiveFailures(1),
	)
	require.NoError(t, err)
	assert.Equal(t, "project", cfg.ProjectID)
	assert.Equal(t, "instance", cfg.InstanceID)
	assert.Equal(t, 5, cfg.MinNodes)
	assert.Equal(t, 20, cfg.MaxNodes)
	assert.Equal(t, 5, cfg.IncreaseStep, "negative steps are coerced to their absolute value")
	assert.Equal(t, 3, cfg.DecreaseStep, "negative steps are coerced to their absolute value")
	assert.Equal(t, 0.5, cfg.MaxCPU)
	assert.Equal(t, 0.2, cfg.MinCPU)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 1, cfg.MaxConsecutiveFailures)
}

func TestScalerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ScalerConfig)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(*ScalerConfig) {}},
		{name: "min equals max", mutate: func(c *ScalerConfig) { c.MinNodes, c.MaxNodes = 4, 4 }},
		{name: "zero steps", mutate: func(c *ScalerConfig) { c.IncreaseStep, c.DecreaseStep = 0, 0 }},
		{name: "zero cooldown", mutate: func(c *ScalerConfig) { c.Cooldown = 0 }},
		{name: "full cpu band", mutate: func(c *ScalerConfig) { c.MinCPU, c.MaxCPU = 0, 1 }},
		{name: "missing project", mutate: func(c *ScalerConfig) { c.ProjectID = "" }, wantErr: true},
		{name: "missing instance", mutate: func(c *ScalerConfig) { c.InstanceID = "" }, wantErr: true},
		{name: "zero min nodes", mutate: func(c *ScalerConfig) { c.MinNodes = 0 }, wantErr: true},
		{name: "max below min", mutate: func(c *ScalerConfig) { c.MinNodes, c.MaxNodes = 10, 5 }, wantErr: true},
		{name: "negative step", mutate: func(c *ScalerConfig) { c.IncreaseStep = -1 }, wantErr: true},
		{name: "negative min cpu", mutate: func(c *ScalerConfig) { c.MinCPU = -0.1 }, wantErr: true},
		{name: "max cpu above one", mutate: func(c *ScalerConfig) { c.MaxCPU = 1.5 }, wantErr: true},
		{name: "nan cpu", mutate: func(c *ScalerConfig) { c.MaxCPU = math.NaN() }, wantErr: true},
		{name: "min cpu equals max cpu", mutate: func(c *ScalerConfig) { c.MinCPU, c.MaxCPU = 0.5, 0.5 }, wantErr: true},
		{name: "min cpu above max cpu", mutate: func(c *ScalerConfig) { c.MinCPU, c.MaxCPU = 0.8, 0.5 }, wantErr: true},
		{name: "negative cooldown", mutate: func(c *ScalerConfig) { c.Cooldown = -time.Second }, wantErr: true},
		{name: "negative tick interval", mutate: func(c *ScalerConfig) { c.TickInterval = -time.Second }, wantErr: true},
		{name: "zero failure budget", mutate: func(c *ScalerConfig) { c.MaxConsecutiveFailures = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScalerConfig()
			cfg.ProjectID = "project"
			cfg.InstanceID = "instance"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewScalerConfig_RejectsInvalid(t *testing.T) {
	_, err := NewScalerConfig("project", "instance", WithMinNodes(10), WithMaxNodes(5))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
