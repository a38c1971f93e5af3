package mcts

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Distribution turns per-action visit counts into a move distribution over
// an action space of size actionSpace. Actions outside the space are an
// error; actions never tried get zero.
//
// With temperature 0 the result is one-hot on the most visited action (ties
// to the lowest action). Otherwise each action gets counts^(1/t), normalised.
func Distribution(actions []int, counts []int, actionSpace int, temperature float64) ([]float64, error) {
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) || temperature < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemperature, temperature)
	}
	if len(actions) != len(counts) {
		return nil, fmt.Errorf("distribution: %d actions with %d counts", len(actions), len(counts))
	}

	total := 0
	best := -1
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("distribution: negative visit count %d for action %d", c, actions[i])
		}
		if actions[i] < 0 || actions[i] >= actionSpace {
			return nil, fmt.Errorf("distribution: action %d outside action space %d", actions[i], actionSpace)
		}
		total += c
		if best < 0 || c > counts[best] || (c == counts[best] && actions[i] < actions[best]) {
			best = i
		}
	}
	if total == 0 {
		return nil, ErrNoVisits
	}

	dist := make([]float64, actionSpace)
	if temperature == 0 {
		dist[actions[best]] = 1
		return dist, nil
	}

	// (c/cmax)^(1/t) has the same normalised value as c^(1/t) without
	// overflowing for small temperatures.
	maxCount := float64(counts[best])
	for i, c := range counts {
		if c == 0 {
			continue
		}
		dist[actions[i]] = math.Pow(float64(c)/maxCount, 1/temperature)
	}
	floats.Scale(1/floats.Sum(dist), dist)
	return dist, nil
}

// VisitCounts returns the tried actions of node and their visit counts.
func (g *Graph[S]) VisitCounts(node NodeID) ([]int, []int) {
	n := g.Node(node)
	if n == nil {
		return nil, nil
	}
	actions := make([]int, len(n.edges))
	counts := make([]int, len(n.edges))
	for i, e := range n.edges {
		actions[i] = e.Action
		counts[i] = e.Attributes.VisitCount
	}
	return actions, counts
}

// MoveDistribution extracts the distribution at node.
func MoveDistribution[S State[S]](g *Graph[S], node NodeID, actionSpace int, temperature float64) ([]float64, error) {
	if g.Node(node) == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, node)
	}
	actions, counts := g.VisitCounts(node)
	return Distribution(actions, counts, actionSpace, temperature)
}

// Argmax returns the index of the largest entry, ties to the lowest index.
func Argmax(dist []float64) int {
	if len(dist) == 0 {
		return -1
	}
	// floats.MaxIdx returns the first maximum.
	return floats.MaxIdx(dist)
}

// SampleAction draws an index from dist, which must sum to a positive value.
func SampleAction(rng interface{ Float64() float64 }, dist []float64) int {
	total := floats.Sum(dist)
	r := rng.Float64() * total
	acc := 0.0
	last := -1
	for i, p := range dist {
		if p <= 0 {
			continue
		}
		last = i
		acc += p
		if r < acc {
			return i
		}
	}
	return last
}
