package genetic

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrNegativeEta = errors.New("crossover eta must be >= 0")

// Crossover applies elementwise simulated binary crossover (SBX) to two
// parent vectors and returns one child vector of the same length. For each
// element one of the two SBX children is kept with equal probability.
// eta == 0 gives beta == 1 and no bias toward either parent.
func Crossover(p1, p2 []float32, eta float64, rng *rand.Rand) ([]float32, error) {
	if eta < 0 {
		return nil, fmt.Errorf("%w: %v", ErrNegativeEta, eta)
	}
	if len(p1) != len(p2) {
		return nil, fmt.Errorf("parent length mismatch: %d vs %d", len(p1), len(p2))
	}
	rng = ensureRNG(rng)

	child := make([]float32, len(p1))
	exponent := 1.0 / (eta + 1.0)
	for i := range p1 {
		x1 := float64(p1[i])
		x2 := float64(p2[i])
		if x1 == x2 {
			child[i] = p1[i]
			continue
		}

		u := rng.Float64()
		var beta float64
		if u <= 0.5 {
			beta = math.Pow(2*u, exponent)
		} else {
			beta = math.Pow(1.0/(2*(1-u)), exponent)
		}

		c1 := 0.5 * ((1+beta)*x1 + (1-beta)*x2)
		c2 := 0.5 * ((1-beta)*x1 + (1+beta)*x2)
		if rng.Float64() < 0.5 {
			child[i] = float32(c1)
		} else {
			child[i] = float32(c2)
		}
	}
	return child, nil
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng == nil {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rng
}
