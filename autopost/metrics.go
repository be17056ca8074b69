package autopost

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "herald_event_duration_sec",
	Help: "Total duration of message event processing",
}, []string{"direction"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_event_processed",
	Help: "Number of message events processed",
}, []string{"direction"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_event_errors",
	Help: "Number of message events which failed processing",
}, []string{"direction"})
