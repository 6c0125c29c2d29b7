package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var warningsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_ratelimit_warnings",
	Help: "Number of over-threshold warnings issued to moderators",
})

var blocksCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_ratelimit_blocks",
	Help: "Number of moderators hard-blocked by the rate limiter",
})
