package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

// Env is the full daemon configuration read from the process environment.
type Env struct {
	ProjectID  string `split_words:"true"`
	InstanceID string `split_words:"true"`
	// ClusterID is optional when the instance has exactly one cluster.
	ClusterID string `split_words:"true"`

	// Scaling parameters, CPULookback, ListenAddr and LogEnv are seeded before the environment
	// is applied, so they carry no default tags.
	TickInterval           time.Duration `split_words:"true"`
	MinNodes               int           `split_words:"true"`
	MaxNodes               int           `split_words:"true"`
	IncreaseStep           int           `split_words:"true"`
	DecreaseStep           int           `split_words:"true"`
	MaxCPU                 float64       `split_words:"true"`
	MinCPU                 float64       `split_words:"true"`
	Cooldown               time.Duration
	MaxConsecutiveFailures int `split_words:"true"`

	// CPULookback is the monitoring window the CPU sample is taken from.
	CPULookback time.Duration `split_words:"true"`
	SizeBackend string        `split_words:"true" default:"bigtable"`
	CPUBackend  string        `split_words:"true" default:"monitoring"`
	ReadRetries int           `split_words:"true" default:"3"`

	PrometheusAddress string `split_words:"true" default:"http://localhost:9090"`
	PrometheusQuery   string `split_words:"true" default:"avg(bigtable_cluster_cpu_load{instance=\"$instance\"})"`

	K8sNamespace    string        `split_words:"true" default:"default"`
	K8sStatefulSet  string        `split_words:"true"`
	K8sReadyTimeout time.Duration `split_words:"true" default:"10m"`
	Kubeconfig      string

	ListenAddr        string `split_words:"true"`
	LogEnv            string `split_words:"true"`
	SentryDsn         string `split_words:"true"`
	SentryEnvironment string `split_words:"true"`

	// FakeClusterSize and FakeCPUUsage seed the in-memory backend.
	FakeClusterSize int     `split_words:"true" default:"3"`
	FakeCPUUsage    float64 `split_words:"true" default:"0.5"`
}

// LoadEnv reads Env from the process environment on top of the scaling and process defaults.
func LoadEnv() (Env, error) {
	d := DefaultScalerConfig()
	env := Env{
		TickInterval:           d.TickInterval,
		MinNodes:               d.MinNodes,
		MaxNodes:               d.MaxNodes,
		IncreaseStep:           d.IncreaseStep,
		DecreaseStep:           d.DecreaseStep,
		MaxCPU:                 d.MaxCPU,
		MinCPU:                 d.MinCPU,
		Cooldown:               d.Cooldown,
		MaxConsecutiveFailures: d.MaxConsecutiveFailures,
		CPULookback:            values.DefaultCPULookback,
		ListenAddr:             values.DefaultListenAddr,
		LogEnv:                 values.LogEnvDev,
	}
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("failed to process env: %w", err)
	}
	if err := env.validateBackends(); err != nil {
		return Env{}, err
	}
	return env, nil
}

// ScalerConfig builds the validated scaling configuration described by the environment.
func (e Env) ScalerConfig() (ScalerConfig, error) {
	return NewScalerConfig(e.ProjectID, e.InstanceID,
		WithTickInterval(e.TickInterval),
		WithMinNodes(e.MinNodes),
		WithMaxNodes(e.MaxNodes),
		WithIncreaseStep(e.IncreaseStep),
		WithDecreaseStep(e.DecreaseStep),
		WithMaxCPU(e.MaxCPU),
		WithMinCPU(e.MinCPU),
		WithCooldown(e.Cooldown),
		WithMaxConsecutiveFailures(e.MaxConsecutiveFailures),
	)
}

func (e Env) validateBackends() error {
	switch e.SizeBackend {
	case values.SizeBackendBigtable, values.SizeBackendFake:
	case values.SizeBackendKubernetes:
		if e.K8sStatefulSet == "" {
			return fmt.Errorf("%w: K8S_STATEFUL_SET is required for the %s size backend", ErrInvalidConfig, e.SizeBackend)
		}
	default:
		return fmt.Errorf("%w: unsupported size backend: %s", ErrInvalidConfig, e.SizeBackend)
	}

	switch e.CPUBackend {
	case values.CPUBackendMonitoring, values.CPUBackendFake:
	case values.CPUBackendPrometheus:
		if e.PrometheusQuery == "" {
			return fmt.Errorf("%w: PROMETHEUS_QUERY is required for the %s cpu backend", ErrInvalidConfig, e.CPUBackend)
		}
	default:
		return fmt.Errorf("%w: unsupported cpu backend: %s", ErrInvalidConfig, e.CPUBackend)
	}

	if e.CPULookback <= 0 {
		return fmt.Errorf("%w: cpu lookback must be positive", ErrInvalidConfig)
	}
	return nil
}
