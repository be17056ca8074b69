package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var noticesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_notices_sent",
	Help: "Number of operator notices dispatched",
}, []string{"kind"})

var noticeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "herald_notice_errors",
	Help: "Number of operator notices where at least one delivery failed",
}, []string{"kind"})
