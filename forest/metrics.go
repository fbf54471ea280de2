package forest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpdateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "forest",
		Name:      "update_total",
		Help:      "Total points submitted to a forest's Update, including NotReady shingle fills.",
	}, []string{"forest"})

	metricUpdateNotReadyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "forest",
		Name:      "update_not_ready_total",
		Help:      "Total Update calls absorbed into an internal shingle still filling.",
	}, []string{"forest"})

	metricComponentUpdateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "forest",
		Name:      "component_update_errors_total",
		Help:      "Total per-component update failures, before rollback.",
	}, []string{"forest"})

	metricTraverseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "forest",
		Name:      "traverse_total",
		Help:      "Total forest-wide Traverse calls.",
	}, []string{"forest"})
)
