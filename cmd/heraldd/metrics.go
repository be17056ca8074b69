package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("heraldd")

var eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "heraldd_events_received",
	Help: "Number of feed frames received",
})

var eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "heraldd_events_failed",
	Help: "Number of feed events that failed processing",
})

var feedReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "heraldd_feed_reconnects",
	Help: "Number of times the event feed connection was re-established",
})

var currentSeq = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "heraldd_current_seq",
	Help: "Current feed sequence number",
})
