package tree

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricBoundingBoxRecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rcfcore",
	Subsystem: "tree",
	Name:      "bounding_box_recompute_total",
	Help:      "Total times a tree recomputed an interior node's bounding box after an insert or delete invalidated it.",
}, []string{"tree"})
