// Package metrics provides Prometheus metrics collection for self-training runs.
// It defines the counters, gauges and histograms exposed on the metrics
// endpoint while a run is in progress: iteration progress, checkpoint
// activity, pseudo-label volume and model quality.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a training process.
type Metrics struct {
	// Loop progress
	IterationsTotal  prometheus.Counter // Completed self-training iterations
	ResumedTotal     prometheus.Counter // Iterations skipped because a checkpoint existed
	CurrentIteration prometheus.Gauge   // Index of the iteration in progress

	// Checkpoints
	CheckpointLoads  prometheus.Counter // Checkpoints loaded from disk
	CheckpointWrites prometheus.Counter // Checkpoints written

	// Base model selection
	BaseAttempts prometheus.Counter   // Base model candidates trained
	BaseValLoss  prometheus.Histogram // Dev loss of base candidates

	// Sampling
	PseudoLabels  *prometheus.CounterVec // Pseudo-labels selected, by class
	SampleWeights prometheus.Histogram   // Per-example retraining weights

	// Durations
	EstimateDuration prometheus.Histogram // MC dropout wall time
	RetrainDuration  prometheus.Histogram // Retraining wall time

	// Quality
	TestAccuracy        prometheus.Gauge // Test accuracy at the start of the current iteration
	ValAccuracy         prometheus.Gauge // Dev accuracy at the start of the current iteration
	BestValTestAccuracy prometheus.Gauge // Test accuracy at the best dev accuracy so far
	MaxTestAccuracy     prometheus.Gauge // Highest test accuracy so far

	ErrorsTotal prometheus.Counter // Runs aborted by an error
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		IterationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "selftrain_iterations_total",
			Help: "Total number of completed self-training iterations",
		}),
		ResumedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "selftrain_resumed_iterations_total",
			Help: "Iterations restored from an existing checkpoint",
		}),
		CurrentIteration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "selftrain_current_iteration",
			Help: "Index of the self-training iteration in progress",
		}),
		CheckpointLoads: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_loads_total",
			Help: "Total number of checkpoints loaded",
		}),
		CheckpointWrites: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_writes_total",
			Help: "Total number of checkpoints written",
		}),
		BaseAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "base_model_attempts_total",
			Help: "Total number of base model candidates trained",
		}),
		BaseValLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "base_model_val_loss",
			Help:    "Validation loss of base model candidates",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		PseudoLabels: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pseudo_labels_total",
			Help: "Total number of pseudo-labeled examples selected",
		}, []string{"class"}),
		SampleWeights: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sample_weights",
			Help:    "Distribution of retraining sample weights",
			Buckets: prometheus.LinearBuckets(0, 0.25, 9),
		}),
		EstimateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mc_dropout_duration_seconds",
			Help:    "Duration of MC dropout estimation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		RetrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retrain_duration_seconds",
			Help:    "Duration of retraining on pseudo-labels in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
		TestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "test_accuracy",
			Help: "Test accuracy of the current model",
		}),
		ValAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "val_accuracy",
			Help: "Validation accuracy of the current model",
		}),
		BestValTestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "best_val_test_accuracy",
			Help: "Test accuracy at the best validation accuracy so far",
		}),
		MaxTestAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "max_test_accuracy",
			Help: "Highest test accuracy so far",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
