package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var caseCreateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "warden_case_create_duration_sec",
	Help: "Total duration of case creation, including enforcement",
})

var casesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_cases_created",
	Help: "Number of moderation cases recorded",
}, []string{"action"})

var casesDeleted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_cases_deleted",
	Help: "Number of moderation cases hard-deleted (pardons)",
})
