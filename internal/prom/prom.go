package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TickCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigtable_autoscaler_tick_total",
			Help: "Counter for scaler ticks by result",
		},
		[]string{"result"},
	)

	DecisionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigtable_autoscaler_decision_total",
			Help: "Counter for scaling decisions by action",
		},
		[]string{"action"},
	)

	TickHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bigtable_autoscaler_tick_duration_seconds",
			Help:    "Histogram of tick latency (seconds), including blocking resizes",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 120, 600},
		},
	)

	CPUUsageGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bigtable_autoscaler_cpu_usage",
			Help: "Last observed cluster CPU load fraction",
		},
	)

	ClusterSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bigtable_autoscaler_cluster_size",
			Help: "Last observed or written cluster node count",
		},
	)

	ConsecutiveFailuresGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bigtable_autoscaler_consecutive_failures",
			Help: "Number of failed ticks in a row",
		},
	)
)
