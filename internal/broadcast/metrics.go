package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_deliveries_total",
		Help: "Deliveries finished by the fan-out, by final status.",
	}, []string{"status"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_runs_total",
		Help: "Broadcast runs, by result.",
	}, []string{"result"})

	runSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broadcast_run_seconds",
		Help:    "Duration of completed fan-out runs.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)
