package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and vector index Prometheus metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration by mode and outcome",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode", "outcome"},
	)

	SearchFetchDeeperTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_fetch_deeper_total",
			Help:      "Index re-queries issued because filtering left too few results",
		},
		[]string{"mode"},
	)

	SearchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_backend_retries_total",
			Help:      "Backend call retries during search",
		},
		[]string{"backend"}, // embedding / index
	)

	IndexOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_operation_duration_seconds",
			Help:      "Vector index operation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"backend", "op"},
	)

	IndexErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_errors_total",
			Help:      "Vector index operation errors",
		},
		[]string{"backend", "op"},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers search and index metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchFetchDeeperTotal)
	prometheus.MustRegister(SearchRetriesTotal)
	prometheus.MustRegister(IndexOpDuration)
	prometheus.MustRegister(IndexErrorsTotal)
	searchMetricsRegistered = true
}
