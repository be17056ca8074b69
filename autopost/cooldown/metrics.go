package cooldown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cooldownFires = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_cooldown_fires",
	Help: "Number of reply triggers that passed the cooldown gate",
})

var cooldownSuppressed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_cooldown_suppressed",
	Help: "Number of reply triggers suppressed by the cooldown gate",
})

var cooldownReleases = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_cooldown_releases",
	Help: "Number of cooldown fires rolled back after the reply failed",
})
