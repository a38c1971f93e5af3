package mcts

import "errors"

// Sentinel errors for graph and search operations. Structural errors signal
// an invariant violation and abort the current simulation step.
var (
	// ErrActionAlreadyExists is returned when adding an action that already
	// has an outgoing edge from the source node.
	ErrActionAlreadyExists = errors.New("action already exists")

	// ErrActionNotFound is returned when looking up an action that has no
	// outgoing edge from the source node.
	ErrActionNotFound = errors.New("action not found")

	// ErrAlreadyExpanded is returned when expanding a node that already has
	// successors.
	ErrAlreadyExpanded = errors.New("node already expanded")

	// ErrNodeNotFound is returned for a handle that does not belong to the graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidEvaluation is returned when an evaluator breaks its contract:
	// priors not covering exactly the legal actions, or non-finite numbers.
	ErrInvalidEvaluation = errors.New("invalid evaluation")

	// ErrNoActions is returned by a selection policy given nothing to choose from.
	ErrNoActions = errors.New("no actions to select from")

	// ErrNoVisits is returned when extracting a move distribution from a node
	// whose actions were never visited.
	ErrNoVisits = errors.New("no visits to extract a distribution from")

	// ErrInvalidTemperature is returned for a negative or non-finite temperature.
	ErrInvalidTemperature = errors.New("invalid temperature")
)
