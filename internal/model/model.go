package model

import (
	"errors"
	"fmt"
)

// Activation codes stored per non-input layer in the .fnnm layout.
const (
	ActivationSigmoid int32 = iota
	ActivationTanh
	ActivationReLU
	ActivationLinear
)

var (
	ErrTooFewLayers   = errors.New("model requires at least 2 layers")
	ErrShapeMismatch  = errors.New("model vectors do not match topology")
	ErrEmptyVectors   = errors.New("model has no weight or bias vectors")
	ErrIncompatible   = errors.New("models have incompatible topology")
	ErrInvalidLayer   = errors.New("layer size must be > 0")
	ErrActivationCode = errors.New("unknown activation code")
)

// Model is a feedforward network as a flat parameter record: layer sizes,
// one activation per non-input layer, and weight/bias vectors laid out
// layer boundary by layer boundary.
type Model struct {
	LayerSizes  []int32
	Activations []int32
	Weights     []float32
	Biases      []float32
}

// WeightCount returns the total weight count implied by the layer sizes.
func WeightCount(layerSizes []int32) int64 {
	var total int64
	for i := 0; i+1 < len(layerSizes); i++ {
		total += int64(layerSizes[i]) * int64(layerSizes[i+1])
	}
	return total
}

// BiasCount returns the total bias count implied by the layer sizes.
func BiasCount(layerSizes []int32) int64 {
	var total int64
	for i := 1; i < len(layerSizes); i++ {
		total += int64(layerSizes[i])
	}
	return total
}

// Validate checks topology and vector lengths as one unit.
func (m *Model) Validate() error {
	if m == nil {
		return errors.New("model is nil")
	}
	if len(m.LayerSizes) < 2 {
		return ErrTooFewLayers
	}
	for i, size := range m.LayerSizes {
		if size <= 0 {
			return fmt.Errorf("%w: layer %d has size %d", ErrInvalidLayer, i, size)
		}
	}
	if len(m.Activations) != len(m.LayerSizes)-1 {
		return fmt.Errorf("%w: got %d activations for %d layers", ErrShapeMismatch, len(m.Activations), len(m.LayerSizes))
	}
	for i, code := range m.Activations {
		if code < ActivationSigmoid || code > ActivationLinear {
			return fmt.Errorf("%w: layer %d code %d", ErrActivationCode, i+1, code)
		}
	}
	if int64(len(m.Weights)) != WeightCount(m.LayerSizes) {
		return fmt.Errorf("%w: got %d weights, want %d", ErrShapeMismatch, len(m.Weights), WeightCount(m.LayerSizes))
	}
	if int64(len(m.Biases)) != BiasCount(m.LayerSizes) {
		return fmt.Errorf("%w: got %d biases, want %d", ErrShapeMismatch, len(m.Biases), BiasCount(m.LayerSizes))
	}
	return nil
}

// Compatible reports whether two models can be bred: identical layer sizes
// and therefore identical flat vector lengths.
func Compatible(a, b *Model) bool {
	if a == nil || b == nil {
		return false
	}
	if len(a.LayerSizes) != len(b.LayerSizes) {
		return false
	}
	for i := range a.LayerSizes {
		if a.LayerSizes[i] != b.LayerSizes[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	return &Model{
		LayerSizes:  append([]int32(nil), m.LayerSizes...),
		Activations: append([]int32(nil), m.Activations...),
		Weights:     append([]float32(nil), m.Weights...),
		Biases:      append([]float32(nil), m.Biases...),
	}
}
