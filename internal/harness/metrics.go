package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	casesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_cases_total",
		Help: "Total number of parity cases run by outcome",
	}, []string{"outcome"})

	caseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_case_duration_seconds",
		Help:    "Time taken by one parity case, reference and native side",
		Buckets: prometheus.DefBuckets,
	})

	maxAbsDiff = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parity_max_abs_diff",
		Help: "Largest elementwise difference seen in the last run of a case",
	}, []string{"case"})
)
