package mcts

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SelectionPolicy picks one action at an expanded node during descent.
// actions and attributes are aligned.
type SelectionPolicy interface {
	Select(actions []int, attributes []ActionAttributes) (int, error)
}

// SelectionFunc adapts a plain function to SelectionPolicy.
type SelectionFunc func(actions []int, attributes []ActionAttributes) (int, error)

func (f SelectionFunc) Select(actions []int, attributes []ActionAttributes) (int, error) {
	return f(actions, attributes)
}

// Potentials returns Q + c*P*sqrt(sumN)/(1+N) for every action.
func Potentials(c float64, attributes []ActionAttributes) []float64 {
	total := 0
	for _, a := range attributes {
		total += a.VisitCount
	}
	sqrtN := math.Sqrt(float64(total))

	out := make([]float64, len(attributes))
	for i, a := range attributes {
		out[i] = a.ActionValue + c*a.Prior()*sqrtN/(1+float64(a.VisitCount))
	}
	return out
}

func checkAligned(actions []int, attributes []ActionAttributes) error {
	if len(actions) == 0 {
		return ErrNoActions
	}
	if len(actions) != len(attributes) {
		return fmt.Errorf("selection: %d actions with %d attribute records", len(actions), len(attributes))
	}
	return nil
}

// PUCT selects the action with the highest potential. Ties go to the lowest
// action index so a search is reproducible.
type PUCT struct {
	C float64
}

func (p PUCT) Select(actions []int, attributes []ActionAttributes) (int, error) {
	if err := checkAligned(actions, attributes); err != nil {
		return 0, err
	}
	potentials := Potentials(p.C, attributes)

	best := 0
	for i := 1; i < len(actions); i++ {
		if potentials[i] > potentials[best] || (potentials[i] == potentials[best] && actions[i] < actions[best]) {
			best = i
		}
	}
	return actions[best], nil
}

// Sampling draws an action with probability proportional to
// max(potential, 0) + 1. Used for diversity during self-play.
type Sampling struct {
	C   float64
	Rng *rand.Rand
}

func (s Sampling) Select(actions []int, attributes []ActionAttributes) (int, error) {
	if err := checkAligned(actions, attributes); err != nil {
		return 0, err
	}
	weights := Potentials(s.C, attributes)
	for i, w := range weights {
		weights[i] = math.Max(w, 0) + 1
	}
	return actions[sampleIndex(s.Rng, weights)], nil
}

// sampleIndex draws an index with probability proportional to weights,
// which must be non-negative with a positive sum.
func sampleIndex(rng *rand.Rand, weights []float64) int {
	cum := floats.CumSum(make([]float64, len(weights)), weights)
	total := cum[len(cum)-1]

	var r float64
	if rng != nil {
		r = rng.Float64() * total
	} else {
		r = rand.Float64() * total
	}
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > r })
	if i >= len(cum) {
		i = len(cum) - 1
	}
	// Never land on a zero-weight entry because of rounding.
	for i > 0 && weights[i] == 0 {
		i--
	}
	return i
}
