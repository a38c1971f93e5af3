package mcts

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func prior(p float64) *float64 { return &p }

func TestPotentials(t *testing.T) {
	attrs := []ActionAttributes{
		{PriorProbability: prior(0.5), VisitCount: 3, ActionValue: 0.2},
		{PriorProbability: prior(0.5), VisitCount: 1, ActionValue: -0.1},
		{VisitCount: 0},
	}
	got := Potentials(2, attrs)
	sqrtN := math.Sqrt(4)
	require.InDelta(t, 0.2+2*0.5*sqrtN/4, got[0], 1e-12)
	require.InDelta(t, -0.1+2*0.5*sqrtN/2, got[1], 1e-12)
	require.Equal(t, 0.0, got[2], "missing prior counts as zero")
}

func TestPUCT(t *testing.T) {
	t.Run("highest potential", func(t *testing.T) {
		attrs := []ActionAttributes{
			{PriorProbability: prior(0.1), VisitCount: 5, ActionValue: 0.1},
			{PriorProbability: prior(0.9), VisitCount: 1, ActionValue: 0.0},
		}
		a, err := PUCT{C: 1}.Select([]int{4, 6}, attrs)
		require.NoError(t, err)
		require.Equal(t, 6, a)
	})

	t.Run("ties go to the lowest action", func(t *testing.T) {
		attrs := make([]ActionAttributes, 3)
		a, err := PUCT{C: 1}.Select([]int{5, 2, 3}, attrs)
		require.NoError(t, err)
		require.Equal(t, 2, a)
	})

	t.Run("no actions", func(t *testing.T) {
		_, err := PUCT{C: 1}.Select(nil, nil)
		require.ErrorIs(t, err, ErrNoActions)
	})

	t.Run("misaligned", func(t *testing.T) {
		_, err := PUCT{C: 1}.Select([]int{0, 1}, make([]ActionAttributes, 1))
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrNoActions)
	})
}

func TestSampling(t *testing.T) {
	// Potentials are 10 and -5, giving weights 11 and 1.
	attrs := []ActionAttributes{
		{ActionValue: 10},
		{ActionValue: -5},
	}
	s := Sampling{C: 1, Rng: rand.New(rand.NewSource(7))}

	const draws = 6000
	first := 0
	for i := 0; i < draws; i++ {
		a, err := s.Select([]int{0, 1}, attrs)
		require.NoError(t, err)
		require.Contains(t, []int{0, 1}, a)
		if a == 0 {
			first++
		}
	}
	require.InDelta(t, 11.0/12.0, float64(first)/draws, 0.03)

	_, err := s.Select(nil, nil)
	require.ErrorIs(t, err, ErrNoActions)
}
