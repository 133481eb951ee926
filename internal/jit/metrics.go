package jit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_jit_compile_seconds",
		Help:    "Time spent compiling generated test programs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	invokeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_jit_invoke_seconds",
		Help:    "Time spent in compiled native test functions",
		Buckets: prometheus.DefBuckets,
	})
)
