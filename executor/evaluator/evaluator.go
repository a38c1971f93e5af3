// Package evaluator supplies priors and values for connect four positions.
// Every evaluator reports values from the point of view of the side to move,
// so searches using them run with mcts.Alternating perspective.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/brensch/alphafour/executor/mcts"
	"github.com/brensch/alphafour/game"
	"github.com/brensch/alphafour/rules"
	"github.com/chewxy/math32"
)

// ErrBadPrediction is returned when a predictor's output does not fit the board.
var ErrBadPrediction = errors.New("prediction does not match board")

// Predictor produces raw policy logits over columns and a value for the
// side to move. inference.OnnxClient implements it.
type Predictor interface {
	Predict(state *game.GameState) ([]float32, []float32, error)
}

// Terminal returns the evaluation of a finished game, or false if the game
// is still going. The value is from the side to move, which never made the
// winning move: a decided game is a loss for it.
func Terminal(state *game.GameState) (mcts.Evaluation, bool) {
	if !rules.IsGameOver(state) {
		return mcts.Evaluation{}, false
	}
	return mcts.Evaluation{
		Value:    float64(rules.GetResult(state, state.ToMove)),
		Terminal: true,
	}, true
}

func uniformPriors(n int) []float64 {
	priors := make([]float64, n)
	for i := range priors {
		priors[i] = 1 / float64(n)
	}
	return priors
}

// Uniform gives every legal move the same prior and every position value 0.
type Uniform struct{}

func (Uniform) Evaluate(_ context.Context, actions []int, p rules.Position) (mcts.Evaluation, error) {
	if ev, ok := Terminal(p.GameState); ok {
		return ev, nil
	}
	return mcts.Evaluation{Priors: uniformPriors(len(actions))}, nil
}

// Rollout gives uniform priors and values a position by the mean result of
// random playouts.
type Rollout struct {
	Playouts int
	Rng      *rand.Rand
}

func (r *Rollout) Evaluate(ctx context.Context, actions []int, p rules.Position) (mcts.Evaluation, error) {
	if ev, ok := Terminal(p.GameState); ok {
		return ev, nil
	}
	if r.Rng == nil {
		r.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	playouts := r.Playouts
	if playouts <= 0 {
		playouts = 1
	}

	total := float32(0)
	for i := 0; i < playouts; i++ {
		if err := ctx.Err(); err != nil {
			return mcts.Evaluation{}, err
		}
		total += r.playout(p.GameState)
	}
	return mcts.Evaluation{
		Priors: uniformPriors(len(actions)),
		Value:  float64(total / float32(playouts)),
	}, nil
}

func (r *Rollout) playout(start *game.GameState) float32 {
	state := start
	for {
		moves := rules.GetLegalMoves(state)
		if len(moves) == 0 {
			return rules.GetResult(state, start.ToMove)
		}
		state = rules.NextState(state, moves[r.Rng.Intn(len(moves))])
	}
}

// Network evaluates positions with a policy/value model.
type Network struct {
	Client Predictor
}

func (n Network) Evaluate(_ context.Context, actions []int, p rules.Position) (mcts.Evaluation, error) {
	if ev, ok := Terminal(p.GameState); ok {
		return ev, nil
	}
	logits, value, err := n.Client.Predict(p.GameState)
	if err != nil {
		return mcts.Evaluation{}, fmt.Errorf("predict: %w", err)
	}
	if len(value) == 0 {
		return mcts.Evaluation{}, fmt.Errorf("%w: empty value", ErrBadPrediction)
	}
	priors, err := LegalSoftmax(logits, actions)
	if err != nil {
		return mcts.Evaluation{}, err
	}
	v := math32.Max(-1, math32.Min(1, value[0]))
	return mcts.Evaluation{Priors: priors, Value: float64(v)}, nil
}

// LegalSoftmax normalises logits over the legal columns only.
func LegalSoftmax(logits []float32, actions []int) ([]float64, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	maxLogit := math32.Inf(-1)
	for _, a := range actions {
		if a < 0 || a >= len(logits) {
			return nil, fmt.Errorf("%w: column %d with %d logits", ErrBadPrediction, a, len(logits))
		}
		maxLogit = math32.Max(maxLogit, logits[a])
	}

	exps := make([]float32, len(actions))
	var sum float32
	for i, a := range actions {
		exps[i] = math32.Exp(logits[a] - maxLogit)
		sum += exps[i]
	}
	if sum == 0 || math32.IsNaN(sum) || math32.IsInf(sum, 0) {
		return uniformPriors(len(actions)), nil
	}

	priors := make([]float64, len(actions))
	for i, e := range exps {
		priors[i] = float64(e / sum)
	}
	return priors, nil
}

// Counting wraps an evaluator and counts the evaluations that go through it.
type Counting struct {
	Inner mcts.Evaluator[rules.Position]
	count atomic.Int64
}

func (c *Counting) Evaluate(ctx context.Context, actions []int, p rules.Position) (mcts.Evaluation, error) {
	c.count.Add(1)
	return c.Inner.Evaluate(ctx, actions, p)
}

// Count returns the number of evaluations so far.
func (c *Counting) Count() int64 { return c.count.Load() }
