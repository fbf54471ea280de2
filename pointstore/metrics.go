package pointstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "size",
		Help:      "Current number of live handles held by a point store.",
	}, []string{"store"})

	metricCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "capacity",
		Help:      "Configured maximum number of live handles for a point store.",
	}, []string{"store"})

	metricGrowthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "growth_total",
		Help:      "Total number of times a point store's backing arrays grew.",
	}, []string{"store", "target"})

	metricCompactionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "compaction_total",
		Help:      "Total number of times a point store was compacted.",
	}, []string{"store"})

	metricCompactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "compaction_duration_seconds",
		Help:      "Time spent compacting a point store's flat storage.",
		Buckets:   prometheus.ExponentialBuckets(.00025, 2, 10),
	}, []string{"store"})

	metricOverlapBytesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "pointstore",
		Name:      "overlap_bytes_saved_total",
		Help:      "Total float64 values not re-appended to the flat store due to shingle overlap sharing.",
	}, []string{"store"})
)
