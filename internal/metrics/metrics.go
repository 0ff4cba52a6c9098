// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics exposes Prometheus instruments for trials, stage attempts
// and promotions. Each Recorder owns its registry so a process (or a test)
// never shares counters with another pipeline run. A nil *Recorder is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trip_trainer"

// Trial and stage outcome label values.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
	OutcomeOK     = "success"
)

// Recorder holds the pipeline instruments.
type Recorder struct {
	registry        *prometheus.Registry
	trials          *prometheus.CounterVec
	trialLoss       prometheus.Histogram
	bestLoss        prometheus.Gauge
	stageAttempts   *prometheus.CounterVec
	stageDuration   *prometheus.GaugeVec
	promotions      *prometheus.CounterVec
	championVersion *prometheus.GaugeVec
}

// New registers every instrument on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		trials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trials_total",
				Help:      "Total number of evaluated hyperparameter trials",
			},
			[]string{"status"},
		),
		trialLoss: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "trial_loss",
				Help:      "Validation loss of successful trials",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		bestLoss: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "best_loss",
				Help:      "Lowest validation loss found by the search",
			},
		),
		stageAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_attempts_total",
				Help:      "Total number of stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		stageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time of the last execution of each stage, retries included",
			},
			[]string{"stage"},
		),
		promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "Total number of alias reassignments",
			},
			[]string{"alias"},
		),
		championVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "champion_version",
				Help:      "Model version the alias points at after promotion",
			},
			[]string{"model", "alias"},
		),
	}

	r.registry.MustRegister(r.trials)
	r.registry.MustRegister(r.trialLoss)
	r.registry.MustRegister(r.bestLoss)
	r.registry.MustRegister(r.stageAttempts)
	r.registry.MustRegister(r.stageDuration)
	r.registry.MustRegister(r.promotions)
	r.registry.MustRegister(r.championVersion)
	return r
}

// Registry returns the registry holding the instruments.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveTrial counts one trial. The loss of failed trials is not observed.
func (r *Recorder) ObserveTrial(loss float64, failed bool) {
	if r == nil {
		return
	}
	if failed {
		r.trials.WithLabelValues(StatusFailed).Inc()
		return
	}
	r.trials.WithLabelValues(StatusOK).Inc()
	r.trialLoss.Observe(loss)
}

// SetBestLoss records the best loss of the search.
func (r *Recorder) SetBestLoss(loss float64) {
	if r == nil {
		return
	}
	r.bestLoss.Set(loss)
}

// StageAttempt counts one attempt of stage with outcome.
func (r *Recorder) StageAttempt(stage, outcome string) {
	if r == nil {
		return
	}
	r.stageAttempts.WithLabelValues(stage, outcome).Inc()
}

// StageDuration records the wall time of stage.
func (r *Recorder) StageDuration(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Promotion counts one alias reassignment to version of model.
func (r *Recorder) Promotion(model, alias string, version int) {
	if r == nil {
		return
	}
	r.promotions.WithLabelValues(alias).Inc()
	r.championVersion.WithLabelValues(model, alias).Set(float64(version))
}

// WriteTextfile writes every instrument to path in the node-exporter
// textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
