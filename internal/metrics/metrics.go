package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker-side counters and gauges. Registered on the default registry and
// served by the worker's metrics endpoint.
var (
	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_jobs_claimed_total",
		Help: "Jobs atomically claimed by this worker.",
	})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docflow_jobs_finished_total",
		Help: "Jobs finished, by terminal status.",
	}, []string{"status"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docflow_job_duration_seconds",
		Help:    "Wall time spent processing one claimed job.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	DeliveriesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_deliveries_sent_total",
		Help: "Delivery emails handed to the mail transport.",
	})

	DeliveriesPromoted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_deliveries_promoted_total",
		Help: "Scheduled deliveries promoted to sent by the sweep.",
	})

	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docflow_sweep_errors_total",
		Help: "Scheduled deliveries the sweep failed to dispatch.",
	})
)
