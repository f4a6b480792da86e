package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts submitted turns.
	// Labels: outcome (answered, needs_clarification, failed, error)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agenticbot",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Total number of turns by outcome",
		},
		[]string{"outcome"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agenticbot",
			Subsystem: "session",
			Name:      "turn_duration_seconds",
			Help:      "Duration of a turn in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// ResumedTurnsTotal counts turns that answered a pending clarification.
	ResumedTurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agenticbot",
			Subsystem: "session",
			Name:      "resumed_turns_total",
			Help:      "Total number of turns that answered a clarification question",
		},
	)
)

// outcomeError labels turns that ended with a fatal engine error.
const outcomeError = "error"
