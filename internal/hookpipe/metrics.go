package hookpipe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hookInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreagent_hook_invocations_total",
			Help: "Total number of hook pipeline handler invocations by kind and outcome",
		},
		[]string{"kind", "handler", "outcome"},
	)

	hookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coreagent_hook_duration_seconds",
			Help:    "Duration of individual hook handler invocations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"kind", "handler"},
	)
)

func outcomeLabel(o Outcome) string {
	switch o {
	case Ok:
		return "ok"
	case Blocked:
		return "blocked"
	default:
		return "error"
	}
}
