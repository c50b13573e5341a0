package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "session",
		Name:      "created_total",
		Help:      "Total number of sessions created",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsergrid",
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of sessions currently in a non-terminal state",
	})

	ProvisioningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "browsergrid",
		Subsystem: "session",
		Name:      "provisioning_latency_seconds",
		Help:      "Latency from session creation to readiness",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 150},
	})

	ProvisioningErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "session",
		Name:      "provisioning_errors_total",
		Help:      "Total number of failed provisioning attempts",
	})

	ProvisioningRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "session",
		Name:      "provisioning_retries_total",
		Help:      "Total number of provisioning retries",
	})
)

// Launcher Metrics
var (
	LaunchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "launcher",
		Name:      "launch_errors_total",
		Help:      "Total number of container launch errors",
	})

	TeardownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "launcher",
		Name:      "teardowns_total",
		Help:      "Total number of container teardowns",
	})
)

// Sweeper Metrics
var (
	SweeperReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "sweeper",
		Name:      "reclaimed_total",
		Help:      "Total number of idle or expired sessions reclaimed",
	})

	SweeperDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsergrid",
		Subsystem: "sweeper",
		Name:      "deleted_total",
		Help:      "Total number of terminal session records deleted after retention",
	})
)
