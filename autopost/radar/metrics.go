package radar

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var radarDangerCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_radar_danger",
	Help: "Number of radar checks which reported a watched identity active",
})

var radarResolveErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_radar_resolve_errors",
	Help: "Number of watched identity presence lookups which failed",
})
