// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApplicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applications_total",
			Help: "Terminal application outcomes by platform",
		},
		[]string{"platform", "outcome"},
	)

	StageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_transitions_total",
			Help: "Ledger stage transitions recorded",
		},
		[]string{"platform", "stage"},
	)

	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "submission_duration_seconds",
			Help: "Duration of one submission attempt including retries",
		},
		[]string{"platform"},
	)

	VerificationWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_wait_seconds",
			Help:    "Time spent waiting for a verification mail",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)

	IdentitiesCooling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "identities_cooling",
			Help: "Number of egress identities currently in cooldown",
		},
	)

	ReservationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_conflicts_total",
			Help: "Reserve calls that found the key already claimed",
		},
	)
)
