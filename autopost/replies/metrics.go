package replies

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var repliesSent = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_replies_sent",
	Help: "Number of automated keyword replies sent",
})

var replyErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "herald_reply_errors",
	Help: "Number of automated keyword replies which failed to send",
})
