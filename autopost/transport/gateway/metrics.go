package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var gatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_gateway_requests",
	Help: "Number of requests to the session gateway, by method and status",
}, []string{"method", "status"})

var gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "herald_gateway_request_duration_sec",
	Help: "Duration of session gateway requests",
}, []string{"method"})
