package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes engine counters to Prometheus.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatingDecisions   *prometheus.CounterVec
	fillConfirmations *prometheus.CounterVec
	ghostOrders       prometheus.Counter
	predictions       prometheus.Counter
	validations       *prometheus.CounterVec
	accuracy          prometheus.Gauge
	multiplier        *prometheus.GaugeVec
	sweepDuration     *prometheus.HistogramVec
}

// New creates a recorder registered on reg
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatingDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_gating_decisions_total",
				Help: "Gating decisions by result",
			},
			[]string{"result"},
		),
		fillConfirmations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_fill_confirmations_total",
				Help: "Fill confirmation attempts by result",
			},
			[]string{"result"},
		),
		ghostOrders: f.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_ghost_orders_total",
			Help: "Approved orders never confirmed by the venue",
		}),
		predictions: f.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_predictions_total",
			Help: "Predictions recorded",
		}),
		validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_validations_total",
				Help: "Predictions validated by correctness",
			},
			[]string{"correct"},
		),
		accuracy: f.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeeper_prediction_accuracy",
			Help: "Overall directional accuracy of validated predictions",
		}),
		multiplier: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gatekeeper_confidence_multiplier",
				Help: "Last confidence multiplier applied per regime",
			},
			[]string{"regime"},
		),
		sweepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_sweep_duration_seconds",
				Help:    "Duration of periodic sweeps",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sweep"},
		),
	}
}

// RecordGating records a gating decision
func (r *Recorder) RecordGating(approved bool) {
	if r == nil {
		return
	}
	result := "rejected"
	if approved {
		result = "approved"
	}
	r.gatingDecisions.WithLabelValues(result).Inc()
}

// RecordFill records a fill confirmation attempt
func (r *Recorder) RecordFill(ok bool) {
	if r == nil {
		return
	}
	result := "failed"
	if ok {
		result = "confirmed"
	}
	r.fillConfirmations.WithLabelValues(result).Inc()
}

// RecordGhosts adds newly flagged ghost orders
func (r *Recorder) RecordGhosts(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ghostOrders.Add(float64(n))
}

// RecordPrediction counts a recorded prediction
func (r *Recorder) RecordPrediction() {
	if r == nil {
		return
	}
	r.predictions.Inc()
}

// RecordValidation counts a validated prediction
func (r *Recorder) RecordValidation(correct bool) {
	if r == nil {
		return
	}
	r.validations.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

// RecordAccuracy sets the overall accuracy gauge
func (r *Recorder) RecordAccuracy(accuracy float64) {
	if r == nil {
		return
	}
	r.accuracy.Set(accuracy)
}

// RecordMultiplier records the multiplier applied for a regime
func (r *Recorder) RecordMultiplier(regime string, m float64) {
	if r == nil {
		return
	}
	r.multiplier.WithLabelValues(regime).Set(m)
}

// RecordSweep records sweep latency in seconds
func (r *Recorder) RecordSweep(sweep string, seconds float64) {
	if r == nil {
		return
	}
	r.sweepDuration.WithLabelValues(sweep).Observe(seconds)
}
