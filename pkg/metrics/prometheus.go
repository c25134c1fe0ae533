package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	forecastRuns    *prometheus.HistogramVec
	lockConflicts   *prometheus.CounterVec
	lockTransitions *prometheus.CounterVec
	sweepExpired    prometheus.Counter
	errorsTotal     *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		forecastRuns: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowcast_forecast_run_seconds",
				Help:    "Duration of forecast generation per product",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"product"},
		),
		lockConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowcast_lock_conflicts_total",
				Help: "Lock creation attempts rejected by an existing active lock",
			},
			[]string{"product"},
		),
		lockTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowcast_lock_transitions_total",
				Help: "Lock status transitions by target status",
			},
			[]string{"status"},
		),
		sweepExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "flowcast_lock_sweep_expired_total",
				Help: "Locks expired by the periodic sweep",
			},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordForecastRun records one forecast generation.
func (r *Recorder) RecordForecastRun(productID string, seconds float64) {
	r.forecastRuns.WithLabelValues(productID).Observe(seconds)
}

// RecordLockConflict records a rejected lock creation.
func (r *Recorder) RecordLockConflict(productID string) {
	r.lockConflicts.WithLabelValues(productID).Inc()
}

// RecordLockTransition records a lock status change.
func (r *Recorder) RecordLockTransition(to string) {
	r.lockTransitions.WithLabelValues(to).Inc()
}

// RecordSweep records the outcome of one expiry sweep.
func (r *Recorder) RecordSweep(expired int) {
	r.sweepExpired.Add(float64(expired))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
