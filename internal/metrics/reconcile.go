package metrics

import "github.com/prometheus/client_golang/prometheus"

// Reconciliation and analytics Prometheus metrics.
var (
	ReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Processed corpus changes by kind and result",
		},
		[]string{"kind", "result"}, // result: ok / retry / quarantined / skipped
	)

	ReconcileQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_retry_queue_depth",
			Help:      "Images waiting for a reconciliation retry",
		},
	)

	ReconcileQuarantined = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_quarantined_images",
			Help:      "Images excluded from automatic reconciliation",
		},
	)

	AnalyticsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_total",
			Help:      "Search analytics events by delivery result",
		},
		[]string{"result"}, // emitted / dropped / sink_error
	)
)

var reconcileMetricsRegistered bool

// RegisterReconcileMetrics registers reconciliation and analytics metrics. Must be called once from main.
func RegisterReconcileMetrics() {
	if reconcileMetricsRegistered {
		return
	}
	prometheus.MustRegister(ReconcileTotal)
	prometheus.MustRegister(ReconcileQueueDepth)
	prometheus.MustRegister(ReconcileQuarantined)
	prometheus.MustRegister(AnalyticsEventsTotal)
	reconcileMetricsRegistered = true
}
