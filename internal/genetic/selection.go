package genetic

import (
	"fmt"
	"math/rand"
)

// Candidate is one ranked population member as seen by a Selector: its
// index in the ranked slice owner and its fitness.
type Candidate struct {
	ID      int
	Fitness float64
}

// Selector chooses a parent from a fitness-descending ranked population.
type Selector interface {
	Name() string
	Pick(rng *rand.Rand, ranked []Candidate, eliteCount int) (Candidate, error)
}

// RouletteSelector samples parents with probability proportional to fitness.
// By default the whole ranked population is eligible, elites included;
// ExcludeElites removes the first eliteCount entries from the wheel.
type RouletteSelector struct {
	ExcludeElites bool
}

func (RouletteSelector) Name() string {
	return "roulette"
}

func (s RouletteSelector) Pick(rng *rand.Rand, ranked []Candidate, eliteCount int) (Candidate, error) {
	if rng == nil {
		return Candidate{}, fmt.Errorf("random source is required")
	}
	pool := ranked
	if s.ExcludeElites {
		if eliteCount < 0 || eliteCount >= len(ranked) {
			return Candidate{}, fmt.Errorf("invalid elite count: %d", eliteCount)
		}
		pool = ranked[eliteCount:]
	}
	if len(pool) == 0 {
		return Candidate{}, fmt.Errorf("empty selection pool")
	}

	// Fitness can be negative (time and level weights are unconstrained),
	// so shift the wheel to keep every slice non-negative.
	minFitness := pool[0].Fitness
	for _, c := range pool {
		if c.Fitness < minFitness {
			minFitness = c.Fitness
		}
	}
	shift := 0.0
	if minFitness < 0 {
		shift = -minFitness
	}

	total := 0.0
	cumulative := make([]float64, len(pool))
	for i, c := range pool {
		total += c.Fitness + shift
		cumulative[i] = total
	}
	if total <= 0 {
		return pool[rng.Intn(len(pool))], nil
	}

	spin := rng.Float64() * total
	for i, cum := range cumulative {
		if spin <= cum {
			return pool[i], nil
		}
	}
	return pool[len(pool)-1], nil
}

// TournamentSelector samples candidates uniformly and keeps the fittest.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) Pick(rng *rand.Rand, ranked []Candidate, _ int) (Candidate, error) {
	if rng == nil {
		return Candidate{}, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return Candidate{}, fmt.Errorf("empty selection pool")
	}

	size := s.TournamentSize
	if size <= 0 {
		size = 3
	}
	if size > len(ranked) {
		size = len(ranked)
	}

	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < size; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best, nil
}

// NewSelector resolves a selector by configuration name.
func NewSelector(name string, excludeElites bool) (Selector, error) {
	switch name {
	case "", "roulette":
		return RouletteSelector{ExcludeElites: excludeElites}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unknown selector: %s", name)
	}
}
