package sampler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rcfcore",
		Subsystem: "sampler",
		Name:      "capacity",
		Help:      "Configured reservoir capacity of a sampler.",
	}, []string{"sampler"})

	metricSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "rcfcore",
		Subsystem: "sampler",
		Name:      "size",
		Help:      "Current number of samples held by a sampler.",
	}, []string{"sampler_id"})

	metricAcceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "sampler",
		Name:      "accepted_total",
		Help:      "Total offers accepted by a sampler.",
	}, []string{"sampler_id"})

	metricRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "sampler",
		Name:      "rejected_total",
		Help:      "Total offers rejected by a sampler.",
	}, []string{"sampler_id"})

	metricEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcfcore",
		Subsystem: "sampler",
		Name:      "evicted_total",
		Help:      "Total samples evicted from a full reservoir.",
	}, []string{"sampler_id"})
)
