package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"asterion/internal/population"
)

func TestStartFailureLeavesRunningGaugeAlone(t *testing.T) {
	var obs MetricsObserver
	before := testutil.ToFloat64(instancesRunning)
	erroredBefore := testutil.ToFloat64(instancesErrored)

	obs.InstanceStartFailed(0)
	if got := testutil.ToFloat64(instancesRunning); got != before {
		t.Errorf("running gauge moved on start failure: %v -> %v", before, got)
	}
	if got := testutil.ToFloat64(instancesErrored); got != erroredBefore+1 {
		t.Errorf("errored counter = %v, want %v", got, erroredBefore+1)
	}
}

func TestRunningGaugeBalances(t *testing.T) {
	var obs MetricsObserver
	before := testutil.ToFloat64(instancesRunning)

	obs.InstanceStarted(1)
	if got := testutil.ToFloat64(instancesRunning); got != before+1 {
		t.Fatalf("running gauge = %v after start, want %v", got, before+1)
	}
	obs.InstanceErrored(1)
	if got := testutil.ToFloat64(instancesRunning); got != before {
		t.Fatalf("running gauge = %v after error, want %v", got, before)
	}

	obs.InstanceStarted(2)
	obs.InstanceFinished(2, 1.5)
	if got := testutil.ToFloat64(instancesRunning); got != before {
		t.Fatalf("running gauge = %v after finish, want %v", got, before)
	}
}

func TestGenerationMetrics(t *testing.T) {
	var obs MetricsObserver
	obs.GenerationCompleted(population.Diagnostics{Generation: 4, BestFitness: 9.5, MeanFitness: 3.25})

	if got := testutil.ToFloat64(bestFitness); got != 9.5 {
		t.Errorf("best fitness gauge = %v", got)
	}
	if got := testutil.ToFloat64(meanFitness); got != 3.25 {
		t.Errorf("mean fitness gauge = %v", got)
	}
}
