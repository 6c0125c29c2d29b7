package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_actions_processed",
	Help: "Number of moderation actions processed",
}, []string{"kind"})

var actionsBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_actions_blocked",
	Help: "Number of moderation actions refused by a safety check",
}, []string{"kind", "check"})

var actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "warden_action_duration_sec",
	Help: "Total duration of moderation action processing",
}, []string{"kind"})

var rowsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_cleanup_rows_pruned",
	Help: "Number of expired safety rows removed by the cleanup sweep",
}, []string{"system"})
