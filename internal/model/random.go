package model

import (
	"math"
	"math/rand"
)

// GenerateWeights fills a fresh weight vector for the topology with
// independent uniform samples in [-1, 1).
func GenerateWeights(layerSizes []int32, rng *rand.Rand) []float32 {
	rng = ensureRNG(rng)
	out := make([]float32, WeightCount(layerSizes))
	for i := range out {
		out[i] = float32(rng.Float64()*2 - 1)
	}
	return out
}

// GenerateBiases fills a fresh bias vector with independent standard normal
// samples via Box-Muller.
func GenerateBiases(layerSizes []int32, rng *rand.Rand) []float32 {
	rng = ensureRNG(rng)
	out := make([]float32, BiasCount(layerSizes))
	for i := range out {
		out[i] = float32(boxMuller(rng))
	}
	return out
}

// NewRandom builds a fully initialized model for the topology. Activation
// codes apply per non-input layer; a single code is broadcast to all.
func NewRandom(layerSizes []int32, activation int32, rng *rand.Rand) (*Model, error) {
	rng = ensureRNG(rng)
	m := &Model{
		LayerSizes:  append([]int32(nil), layerSizes...),
		Activations: make([]int32, 0, len(layerSizes)-1),
	}
	for i := 1; i < len(layerSizes); i++ {
		m.Activations = append(m.Activations, activation)
	}
	m.Weights = GenerateWeights(layerSizes, rng)
	m.Biases = GenerateBiases(layerSizes, rng)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func boxMuller(rng *rand.Rand) float64 {
	u1 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

func ensureRNG(rng *rand.Rand) *rand.Rand {
	if rng == nil {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rng
}
