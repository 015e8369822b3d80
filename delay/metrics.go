package delay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_predictions_total",
		Help: "Total number of delay predictions, by outcome.",
	}, []string{"outcome"})
	predictionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_prediction_duration_seconds",
		Help:    "Duration of a single delay prediction.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_training_runs_total",
		Help: "Total number of training runs, by outcome.",
	}, []string{"outcome"})
	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transit_training_duration_seconds",
		Help:    "Duration of completed training runs.",
		Buckets: prometheus.DefBuckets,
	})
	trainingSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transit_training_samples",
		Help: "Number of samples used by the most recent successful training run.",
	})
)
