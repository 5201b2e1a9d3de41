package genetic

import "math/rand"

// Mutate perturbs values in place: each element is replaced, with
// probability rate, by a gaussian sample centered on its current value with
// the given standard deviation. Negative rate or stddev makes the call a
// no-op so a disabled mutation stage never corrupts a vector.
func Mutate(values []float32, rate, stddev float64, rng *rand.Rand) {
	if rate < 0 || stddev < 0 {
		return
	}
	rng = ensureRNG(rng)
	for i := range values {
		if rng.Float64() < rate {
			values[i] = float32(float64(values[i]) + rng.NormFloat64()*stddev)
		}
	}
}
