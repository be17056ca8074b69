package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "herald_publish_cycle_duration_sec",
	Help:    "Duration of one publishing cycle over all destinations",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
})

var cyclesCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_publish_cycles",
	Help: "Number of completed publishing cycles",
})

var destinationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_publish_destinations",
	Help: "Per-destination outcomes of publishing cycles",
}, []string{"outcome"})

var rateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_publish_rate_limits",
	Help: "Number of rate-limit responses received while publishing",
})

var retractions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_publish_retractions",
	Help: "Number of published messages retracted due to danger",
})

var loopsRunning = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "herald_loops_running",
	Help: "Number of publishing loops currently running",
})

var loopExits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_loop_exits",
	Help: "Number of publishing loop exits",
}, []string{"reason"})

var reconfigureCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_reconfigure_calls",
	Help: "Number of supervisor reconfigure calls",
})
