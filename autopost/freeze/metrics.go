package freeze

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var freezeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_freeze_transitions",
	Help: "Number of freeze state transitions",
}, []string{"to"})
