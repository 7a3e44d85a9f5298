package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/truefoundry/bigtable-autoscaler/internal/server"
	"github.com/truefoundry/bigtable-autoscaler/pkg/cluster"
	"github.com/truefoundry/bigtable-autoscaler/pkg/config"
	"github.com/truefoundry/bigtable-autoscaler/pkg/k8shelper"
	"github.com/truefoundry/bigtable-autoscaler/pkg/logger"
	"github.com/truefoundry/bigtable-autoscaler/pkg/retry"
	"github.com/truefoundry/bigtable-autoscaler/pkg/scaling"
	"github.com/truefoundry/bigtable-autoscaler/pkg/values"
)

const sentryFlushTimeout = 2 * time.Second

// Main runs the autoscaler until SIGINT or SIGTERM and exits the process: 0 on a clean shutdown,
// 1 on bad configuration or a fatal scaling error.
func Main() {
	os.Exit(run())
}

// Check validates the configuration from the environment, logs it and exits.
func Check() {
	os.Exit(check())
}

func run() int {
	env, cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	sentryEnabled := initSentry(env)
	defer sentry.Flush(sentryFlushTimeout)

	log, err := logger.NewLogger(env.LogEnv, sentryEnabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, env, cfg, log); err != nil {
		log.Error("Autoscaler stopped with error", zap.Error(err))
		return 1
	}
	log.Info("Autoscaler stopped")
	return 0
}

func check() int {
	env, cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	log, err := logger.NewLogger(env.LogEnv, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get logger: %v\n", err)
		return 1
	}
	defer func() {
		_ = log.Sync()
	}()

	if env.SentryDsn != "" {
		env.SentryDsn = "<redacted>"
	}
	log.Info("Configuration is valid", zap.Any("env", env), zap.Any("scaler", cfg))
	return 0
}

func loadConfig() (config.Env, config.ScalerConfig, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return config.Env{}, config.ScalerConfig{}, err
	}
	cfg, err := env.ScalerConfig()
	if err != nil {
		return config.Env{}, config.ScalerConfig{}, err
	}
	return env, cfg, nil
}

func initSentry(env config.Env) bool {
	if env.SentryDsn == "" {
		return false
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         env.SentryDsn,
		Environment: env.SentryEnvironment,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Sentry initialization failed: %v\n", err)
		return false
	}
	return true
}

// serve builds the cluster backends and runs the scaling loop next to the HTTP server until ctx
// is done or either of them fails. The cluster service is closed exactly once on the way out.
func serve(ctx context.Context, env config.Env, cfg config.ScalerConfig, log *zap.Logger) error {
	svc, err := newService(ctx, env, log)
	if err != nil {
		return fmt.Errorf("failed to create cluster service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error("Failed to close cluster service", zap.Error(err))
		}
	}()

	scaler := scaling.NewScaler(cfg, svc, clock.RealClock{}, log)
	driver := scaling.NewDriver(log, scaler, cfg.TickInterval, cfg.MaxConsecutiveFailures)
	srv := server.New(log, env.ListenAddr, driver.Healthy)

	log.Info("Starting autoscaler",
		zap.String("project", cfg.ProjectID),
		zap.String("instance", cfg.InstanceID),
		zap.String("sizeBackend", env.SizeBackend),
		zap.String("cpuBackend", env.CPUBackend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return driver.Run(gctx)
	})
	return g.Wait()
}

// newService builds the sizer and the CPU sampler selected by the environment.
func newService(ctx context.Context, env config.Env, log *zap.Logger) (cluster.Service, error) {
	var fake *cluster.Fake
	fakeCluster := func() *cluster.Fake {
		if fake == nil {
			fake = cluster.NewFake(env.FakeClusterSize, env.FakeCPUUsage)
		}
		return fake
	}

	clusterID := env.ClusterID
	var sizer cluster.Sizer
	switch env.SizeBackend {
	case values.SizeBackendBigtable:
		bt, err := cluster.NewBigtableSizer(ctx, log, env.ProjectID, env.InstanceID, env.ClusterID)
		if err != nil {
			return nil, err
		}
		clusterID = bt.ClusterID()
		sizer = bt
	case values.SizeBackendKubernetes:
		restConfig, err := k8shelper.RestConfig(env.Kubeconfig)
		if err != nil {
			return nil, err
		}
		ops, err := k8shelper.NewOps(log, restConfig, env.K8sNamespace, env.K8sStatefulSet, env.K8sReadyTimeout)
		if err != nil {
			return nil, err
		}
		sizer = ops
	case values.SizeBackendFake:
		sizer = fakeCluster()
	default:
		return nil, fmt.Errorf("%w: unsupported size backend: %s", config.ErrInvalidConfig, env.SizeBackend)
	}

	var sampler cluster.CPUSampler
	switch env.CPUBackend {
	case values.CPUBackendMonitoring:
		ms, err := cluster.NewMonitoringSampler(ctx, log, clusterID, env.CPULookback)
		if err != nil {
			return nil, errors.Join(err, cluster.NewService(sizer, nil).Close())
		}
		sampler = ms
	case values.CPUBackendPrometheus:
		sampler = cluster.NewPrometheusSampler(log, env.PrometheusAddress, env.PrometheusQuery)
	case values.CPUBackendFake:
		sampler = fakeCluster()
	default:
		return nil, errors.Join(
			fmt.Errorf("%w: unsupported cpu backend: %s", config.ErrInvalidConfig, env.CPUBackend),
			cluster.NewService(sizer, nil).Close(),
		)
	}

	svc := cluster.NewService(sizer, sampler)
	if env.ReadRetries > 1 {
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = env.ReadRetries
		svc = cluster.WithReadRetries(svc, retryCfg, log)
	}
	return svc, nil
}
