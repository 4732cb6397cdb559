// Package metrics provides Prometheus metrics for the configuration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Computation outcomes.
const (
	OutcomeMerged     = "merged"
	OutcomeSuperseded = "superseded"
	OutcomeCancelled  = "cancelled"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

var (
	// Computation pipeline metrics
	ComputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidconfig_computations_total",
			Help: "Measurement computations by outcome",
		},
		[]string{"outcome"},
	)

	ComputationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidconfig_computation_duration_seconds",
			Help:    "Time from request to response for measurement calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// Editor metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bidconfig_sessions_active",
			Help: "Open editor sessions",
		},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidconfig_confirmations_total",
			Help: "Confirmation attempts by result",
		},
		[]string{"product_type", "result"},
	)

	MissingFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidconfig_missing_fields_total",
			Help: "Fields reported by the validation gate",
		},
		[]string{"field", "reason"},
	)

	// Event bus metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidconfig_events_total",
			Help: "Domain events dispatched on the bus",
		},
		[]string{"event_type"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bidconfig_events_dropped_total",
			Help: "Domain events dropped because the bus buffer was full",
		},
	)
)
