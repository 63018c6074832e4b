package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tdev_runs_started_total",
		Help: "Pipeline runs started.",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdev_runs_finished_total",
		Help: "Pipeline runs finished, by terminal status.",
	}, []string{"status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tdev_stage_duration_seconds",
		Help:    "Stage execution duration including retries.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"stage"})

	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tdev_stage_errors_total",
		Help: "Stage execution failures.",
	}, []string{"stage"})

	evolutionGenerations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tdev_evolution_generations_total",
		Help: "Evolution generations evaluated.",
	})

	evolutionBestFitness = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tdev_evolution_best_fitness",
		Help: "Best fitness seen in the most recent evolution run.",
	})
)

// RunStarted increments the started-runs counter.
func RunStarted() {
	runsStarted.Inc()
}

// RunFinished records a run reaching a terminal status.
func RunFinished(status string) {
	runsFinished.WithLabelValues(status).Inc()
}

// ObserveStage records a stage sample into the Prometheus collectors.
func ObserveStage(stage string, d time.Duration, failed bool) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		stageErrors.WithLabelValues(stage).Inc()
	}
}

// GenerationEvaluated records one evolution generation and the best
// fitness after it.
func GenerationEvaluated(bestFitness float64) {
	evolutionGenerations.Inc()
	evolutionBestFitness.Set(bestFitness)
}
