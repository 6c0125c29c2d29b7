package escalator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bansClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_bans_classified",
	Help: "Number of bans recorded by the escalator, by risk tier",
}, []string{"risk"})

var awarenessAlerts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_awareness_alerts",
	Help: "Number of awareness-stage alerts sent",
})

var interventions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_interventions",
	Help: "Number of intervention-stage cooldowns applied",
})
