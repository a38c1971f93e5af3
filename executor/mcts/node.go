package mcts

import (
	"context"
	"fmt"
	"math"
)

// State is the capability contract a game position must offer the search.
// Actions are non-negative indices; LegalActions returns them in ascending
// order and returns none once the game is over. Apply must not mutate the
// receiver.
type State[S any] interface {
	LegalActions() []int
	Apply(action int) S
	Hash() uint64
	Equal(other S) bool
}

// NodeID is a handle into a Graph's node arena.
type NodeID int32

// NoNode is returned alongside errors where a handle is expected.
const NoNode NodeID = -1

// Mode selects how a Graph identifies states.
type Mode int

const (
	// Merging shares one node between equal states reached by different
	// move orders (transpositions).
	Merging Mode = iota
	// Tree creates a fresh node for every added successor.
	Tree
)

func (m Mode) String() string {
	switch m {
	case Merging:
		return "merging"
	case Tree:
		return "tree"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ActionAttributes are the statistics kept on one edge.
type ActionAttributes struct {
	PriorProbability *float64
	VisitCount       int
	ActionValue      float64
}

// Prior returns the prior probability, or 0 when it has not been set.
func (a ActionAttributes) Prior() float64 {
	if a.PriorProbability == nil {
		return 0
	}
	return *a.PriorProbability
}

func (a ActionAttributes) String() string {
	prior := "none"
	if a.PriorProbability != nil {
		prior = fmt.Sprintf("%.2f", *a.PriorProbability)
	}
	return fmt.Sprintf("action_value=%.2f prior_probability=%s visit_count=%d", a.ActionValue, prior, a.VisitCount)
}

// Edge is one tried action out of a node.
type Edge struct {
	Action     int
	Target     NodeID
	Attributes ActionAttributes
}

// Node holds one discovered state.
type Node[S any] struct {
	State S

	// StateValue is set once the node has been evaluated.
	StateValue *float64

	// Terminal is set when the evaluator reported a finished game.
	Terminal bool

	edges []Edge
}

// Edges returns the node's outgoing edges in insertion order.
func (n *Node[S]) Edges() []Edge {
	return n.edges
}

// Evaluation is an evaluator's verdict on one state.
// Priors are aligned with the actions the evaluator was given.
type Evaluation struct {
	Priors   []float64
	Value    float64
	Terminal bool
}

// Evaluator supplies priors and a value for a state.
type Evaluator[S any] interface {
	Evaluate(ctx context.Context, actions []int, state S) (Evaluation, error)
}

// EvaluatorFunc adapts a plain function to Evaluator.
type EvaluatorFunc[S any] func(ctx context.Context, actions []int, state S) (Evaluation, error)

func (f EvaluatorFunc[S]) Evaluate(ctx context.Context, actions []int, state S) (Evaluation, error) {
	return f(ctx, actions, state)
}

// validateEvaluation rejects contract violations before anything is written
// to the graph. Terminal evaluations get their priors zeroed.
func validateEvaluation(actions []int, ev Evaluation) (Evaluation, error) {
	if math.IsNaN(ev.Value) || math.IsInf(ev.Value, 0) {
		return ev, fmt.Errorf("%w: value %v is not finite", ErrInvalidEvaluation, ev.Value)
	}
	if ev.Terminal {
		ev.Priors = make([]float64, len(actions))
		return ev, nil
	}
	if len(ev.Priors) != len(actions) {
		return ev, fmt.Errorf("%w: %d priors for %d legal actions", ErrInvalidEvaluation, len(ev.Priors), len(actions))
	}
	for i, p := range ev.Priors {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return ev, fmt.Errorf("%w: prior %v for action %d", ErrInvalidEvaluation, p, actions[i])
		}
	}
	return ev, nil
}

// Config holds MCTS configuration
type Config struct {
	Cpuct float64

	// Temperature converts root visit counts into the move distribution.
	// 0 plays the most visited action.
	Temperature float64

	// Sample selects with the sampling policy instead of the deterministic
	// argmax during descent.
	Sample bool

	Mode        Mode
	Backup      BackupRule
	Perspective Perspective

	// ActionSpace is the size of the returned distribution. When 0 it is
	// derived from the largest root action.
	ActionSpace int
}

// DefaultConfig matches the settings used for self-play.
func DefaultConfig() Config {
	return Config{
		Cpuct:       1.0,
		Temperature: 1.0,
		Mode:        Merging,
		Backup:      MeanBackup,
		Perspective: Alternating,
	}
}
