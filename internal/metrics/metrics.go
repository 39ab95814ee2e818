// Package metrics holds the process's Prometheus collectors, registered
// once at init, covering the fencing, balancer, snapshot, webhook, and
// health surfaces.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FencingActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcp_fencing_actions_total",
			Help: "Total number of fencing actions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	BalancerRecommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcp_balancer_recommendations_total",
			Help: "Total number of migration recommendations emitted by priority",
		},
		[]string{"priority"},
	)

	SnapshotRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcp_snapshot_runs_total",
			Help: "Total number of scheduled snapshot attempts by result",
		},
		[]string{"result"},
	)

	SnapshotsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vcp_snapshots_pruned_total",
			Help: "Total number of snapshots deleted by retention pruning",
		},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcp_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDeliveryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vcp_webhook_delivery_attempts",
			Help:    "Number of attempts taken per webhook delivery",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
	)

	ComponentHealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vcp_component_health_status",
			Help: "Component health as reported by the aggregator (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)

	AffinityViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcp_affinity_violations_total",
			Help: "Total number of affinity rule violations detected by variant",
		},
		[]string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(
		FencingActionsTotal,
		BalancerRecommendationsTotal,
		SnapshotRunsTotal,
		SnapshotsPrunedTotal,
		WebhookDeliveriesTotal,
		WebhookDeliveryAttempts,
		ComponentHealthStatus,
		AffinityViolationsTotal,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
