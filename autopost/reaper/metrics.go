package reaper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var leasesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_leases_created",
	Help: "Number of temporary memberships joined",
})

var leasesExpired = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_leases_expired",
	Help: "Number of membership leases removed after their TTL",
})

var leaveFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_lease_leave_failures",
	Help: "Number of failed leave calls for expired leases",
})
