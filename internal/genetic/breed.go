package genetic

import (
	"errors"
	"fmt"
	"math/rand"

	"asterion/internal/model"
)

var ErrMissingVectors = errors.New("parent model has no flat vectors")

// BreedParams tunes the crossover and mutation stages of Breed.
type BreedParams struct {
	Eta            float64
	MutationRate   float64
	MutationStddev float64
}

// Breed produces a child model from two topology-compatible parents:
// SBX crossover followed by gaussian mutation, applied to weights and
// biases independently. Topology and activations are taken from p1.
// A nil model and an error are returned when the parents cannot be bred;
// no partial child is ever handed back.
func Breed(p1, p2 *model.Model, params BreedParams, rng *rand.Rand) (*model.Model, error) {
	if !model.Compatible(p1, p2) {
		return nil, model.ErrIncompatible
	}
	if len(p1.Weights) == 0 || len(p1.Biases) == 0 || len(p2.Weights) == 0 || len(p2.Biases) == 0 {
		return nil, ErrMissingVectors
	}
	if len(p1.Weights) != len(p2.Weights) || len(p1.Biases) != len(p2.Biases) {
		return nil, fmt.Errorf("%w: vector lengths differ", model.ErrIncompatible)
	}
	rng = ensureRNG(rng)

	weights, err := Crossover(p1.Weights, p2.Weights, params.Eta, rng)
	if err != nil {
		return nil, fmt.Errorf("crossover weights: %w", err)
	}
	biases, err := Crossover(p1.Biases, p2.Biases, params.Eta, rng)
	if err != nil {
		return nil, fmt.Errorf("crossover biases: %w", err)
	}

	Mutate(weights, params.MutationRate, params.MutationStddev, rng)
	Mutate(biases, params.MutationRate, params.MutationStddev, rng)

	child := &model.Model{
		LayerSizes:  append([]int32(nil), p1.LayerSizes...),
		Activations: append([]int32(nil), p1.Activations...),
		Weights:     weights,
		Biases:      biases,
	}
	if err := child.Validate(); err != nil {
		return nil, fmt.Errorf("bred child invalid: %w", err)
	}
	return child, nil
}
