package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"asterion/internal/population"
)

var (
	instancesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asterion_instances_started_total",
		Help: "Instances started across all generations.",
	})
	instancesFinished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asterion_instances_finished_total",
		Help: "Instances that reported a clean game-over.",
	})
	instancesErrored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asterion_instances_errored_total",
		Help: "Instances that were killed or lost a child.",
	})
	instancesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asterion_instances_running",
		Help: "Instances currently running.",
	})
	generationsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "asterion_generations_completed_total",
		Help: "Generations evaluated to completion.",
	})
	bestFitness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asterion_best_fitness",
		Help: "Best fitness of the last completed generation.",
	})
	meanFitness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asterion_mean_fitness",
		Help: "Mean fitness of the last completed generation.",
	})
)

func init() {
	prometheus.MustRegister(
		instancesStarted,
		instancesFinished,
		instancesErrored,
		instancesRunning,
		generationsCompleted,
		bestFitness,
		meanFitness,
	)
}

// MetricsObserver bridges scheduler lifecycle events onto the process
// metrics exposed at /metrics.
type MetricsObserver struct{}

func (MetricsObserver) InstanceStarted(int) {
	instancesStarted.Inc()
	instancesRunning.Inc()
}

func (MetricsObserver) InstanceFinished(int, float64) {
	instancesFinished.Inc()
	instancesRunning.Dec()
}

func (MetricsObserver) InstanceErrored(int) {
	instancesErrored.Inc()
	instancesRunning.Dec()
}

// InstanceStartFailed counts as an error but never touches the running
// gauge; the instance was never counted as started.
func (MetricsObserver) InstanceStartFailed(int) {
	instancesErrored.Inc()
}

func (MetricsObserver) GenerationCompleted(diag population.Diagnostics) {
	generationsCompleted.Inc()
	bestFitness.Set(diag.BestFitness)
	meanFitness.Set(diag.MeanFitness)
}
