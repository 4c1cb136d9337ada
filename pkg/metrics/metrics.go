package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Rank computations, labeled by transport (grpc, http) and outcome
	RankRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siterank_rank_requests_total",
			Help: "Total number of rank computations requested",
		},
		[]string{"transport", "status"},
	)

	RankDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "siterank_rank_duration_seconds",
			Help:    "Duration of power iteration and top-k selection",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"transport"},
	)

	Iterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siterank_iterations",
			Help:    "Iterations needed to converge",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Convergence scalar of the last completed iteration
	Convergence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siterank_convergence",
			Help: "Total absolute rank change of the last iteration",
		},
	)

	Sites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "siterank_sites",
			Help: "Number of sites in the last ranked graph",
		},
	)

	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siterank_queue_jobs_total",
			Help: "Aggregation jobs exchanged through the work queue",
		},
		[]string{"role"},
	)
)
