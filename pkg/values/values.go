package values

import "time"

const (
	// CPULoadMetricType is the Cloud Monitoring metric reporting per-cluster CPU load as a fraction.
	CPULoadMetricType = "bigtable.googleapis.com/cluster/cpu_load"

	DefaultCPULookback  = time.Second * 300
	DefaultTickInterval = time.Second * 10
	DefaultListenAddr   = ":8080"

	SizeBackendBigtable   = "bigtable"
	SizeBackendKubernetes = "kubernetes"
	SizeBackendFake       = "fake"

	CPUBackendMonitoring = "monitoring"
	CPUBackendPrometheus = "prometheus"
	CPUBackendFake       = "fake"

	// Placeholders substituted into PROMETHEUS_QUERY before it is sent.
	ProjectPlaceholder  = "$project"
	InstancePlaceholder = "$instance"

	EventComponent = "bigtable-autoscaler"

	LogEnvProd = "prod"
	LogEnvDev  = "dev"
)
