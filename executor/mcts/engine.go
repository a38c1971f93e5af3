package mcts

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// BackupRule selects how a new leaf value updates the action values on its
// path.
type BackupRule int

const (
	// MeanBackup gives the action into the leaf the leaf's state value and
	// every earlier action the plain mean of all action values at its child.
	MeanBackup BackupRule = iota
	// RunningMeanBackup moves every action value on the path towards the
	// leaf value by 1/N, keeping a visit-weighted mean.
	RunningMeanBackup
)

func (r BackupRule) String() string {
	switch r {
	case MeanBackup:
		return "mean"
	case RunningMeanBackup:
		return "running"
	default:
		return fmt.Sprintf("BackupRule(%d)", int(r))
	}
}

// ParseBackupRule is the inverse of BackupRule.String.
func ParseBackupRule(s string) (BackupRule, error) {
	switch s {
	case "mean", "":
		return MeanBackup, nil
	case "running":
		return RunningMeanBackup, nil
	default:
		return 0, fmt.Errorf("unknown backup rule %q", s)
	}
}

// Perspective says whose point of view stored values take.
type Perspective int

const (
	// Fixed stores evaluator values unchanged at every depth.
	Fixed Perspective = iota
	// Alternating negates the value at every ply, for evaluators that report
	// values for the side to move.
	Alternating
)

// ExpansionOutcome distinguishes the ways an expansion can end without error.
type ExpansionOutcome int

const (
	Expanded ExpansionOutcome = iota
	// Terminal means the evaluator reported a finished game; no successors
	// were added.
	Terminal
	// NoActions means a non-terminal state had no legal actions.
	NoActions
)

func (o ExpansionOutcome) String() string {
	switch o {
	case Expanded:
		return "expanded"
	case Terminal:
		return "terminal"
	case NoActions:
		return "no_actions"
	default:
		return fmt.Sprintf("ExpansionOutcome(%d)", int(o))
	}
}

// Expansion reports what happened to a leaf.
type Expansion struct {
	Outcome    ExpansionOutcome
	Actions    []int
	Evaluation Evaluation
}

// StepResult is the outcome of one simulation.
type StepResult struct {
	Path      *Path
	Expansion Expansion
}

type engineOptions struct {
	backup      BackupRule
	perspective Perspective
	logger      zerolog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

func WithBackup(rule BackupRule) Option {
	return func(o *engineOptions) { o.backup = rule }
}

func WithPerspective(p Perspective) Option {
	return func(o *engineOptions) { o.perspective = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// Engine runs select, expand, evaluate and backup against one graph.
// It is single-threaded: one SimulateStep finishes before the next begins.
type Engine[S State[S]] struct {
	graph     *Graph[S]
	selection SelectionPolicy
	evaluator Evaluator[S]
	opts      engineOptions
}

func NewEngine[S State[S]](graph *Graph[S], selection SelectionPolicy, evaluator Evaluator[S], opts ...Option) *Engine[S] {
	o := engineOptions{
		backup:      MeanBackup,
		perspective: Fixed,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[S]{
		graph:     graph,
		selection: selection,
		evaluator: evaluator,
		opts:      o,
	}
}

func (e *Engine[S]) Graph() *Graph[S] { return e.graph }

// SimulateStep runs one simulation from root. Any error aborts the step and
// the visit counts taken during selection are given back, so a failed step
// leaves no visits behind.
func (e *Engine[S]) SimulateStep(ctx context.Context, root NodeID) (StepResult, error) {
	path, err := e.Select(root)
	if err != nil {
		e.release(path)
		return StepResult{}, fmt.Errorf("select: %w", err)
	}

	expansion, err := e.Expand(ctx, path.Leaf())
	if err != nil {
		e.release(path)
		return StepResult{Path: path}, fmt.Errorf("expand: %w", err)
	}

	if err := e.Backup(path); err != nil {
		e.release(path)
		return StepResult{Path: path, Expansion: expansion}, fmt.Errorf("backup: %w", err)
	}

	e.opts.logger.Trace().
		Int("depth", path.Len()).
		Int32("leaf", int32(path.Leaf())).
		Stringer("outcome", expansion.Outcome).
		Float64("value", expansion.Evaluation.Value).
		Msg("simulation step")

	return StepResult{Path: path, Expansion: expansion}, nil
}

// Select walks from root through expanded nodes, incrementing the visit
// count of every chosen action, and stops at the first node without
// successors.
func (e *Engine[S]) Select(root NodeID) (*Path, error) {
	g := e.graph
	if g.Node(root) == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, root)
	}

	path := NewPath(root)
	node := root
	for g.HasSuccessors(node) {
		edges := g.Node(node).Edges()
		actions := make([]int, len(edges))
		attributes := make([]ActionAttributes, len(edges))
		for i, edge := range edges {
			actions[i] = edge.Action
			attributes[i] = edge.Attributes
		}

		action, err := e.selection.Select(actions, attributes)
		if err != nil {
			return path, err
		}
		attr, err := g.ActionAttributes(node, action)
		if err != nil {
			return path, err
		}
		next, err := g.Successor(node, action)
		if err != nil {
			return path, err
		}
		attr.VisitCount++
		path.Add(action, next)
		node = next

		// An acyclic graph cannot have a path longer than its node count.
		if path.Len() >= g.Len() {
			return path, fmt.Errorf("path of %d steps revisits a node", path.Len())
		}
	}
	return path, nil
}

// release undoes the visit increments Select made along path.
func (e *Engine[S]) release(path *Path) {
	if path == nil {
		return
	}
	for _, step := range path.Steps() {
		if attr, err := e.graph.ActionAttributes(step.Node, step.Action); err == nil && attr.VisitCount > 0 {
			attr.VisitCount--
		}
	}
}

// Expand evaluates leaf and, unless the evaluation is terminal, registers
// one successor per legal action with the evaluator's prior.
func (e *Engine[S]) Expand(ctx context.Context, leaf NodeID) (Expansion, error) {
	g := e.graph
	node := g.Node(leaf)
	if node == nil {
		return Expansion{}, fmt.Errorf("%w: %d", ErrNodeNotFound, leaf)
	}
	if g.HasSuccessors(leaf) {
		return Expansion{}, fmt.Errorf("%w: node %d", ErrAlreadyExpanded, leaf)
	}

	state := node.State
	actions := state.LegalActions()

	ev, err := e.evaluator.Evaluate(ctx, actions, state)
	if err != nil {
		return Expansion{}, fmt.Errorf("evaluate: %w", err)
	}
	ev, err = validateEvaluation(actions, ev)
	if err != nil {
		return Expansion{}, err
	}

	value := ev.Value
	node.StateValue = &value
	node.Terminal = ev.Terminal

	out := Expansion{Actions: actions, Evaluation: ev}
	switch {
	case ev.Terminal:
		out.Outcome = Terminal
		return out, nil
	case len(actions) == 0:
		out.Outcome = NoActions
		return out, nil
	}

	for i, action := range actions {
		if _, err := g.AddSuccessor(leaf, action, state.Apply(action)); err != nil {
			return out, err
		}
		attr, err := g.ActionAttributes(leaf, action)
		if err != nil {
			return out, err
		}
		prior := ev.Priors[i]
		attr.PriorProbability = &prior
	}
	out.Outcome = Expanded
	return out, nil
}

// Backup propagates the leaf's state value up path in reverse.
func (e *Engine[S]) Backup(path *Path) error {
	g := e.graph
	leaf := g.Node(path.Leaf())
	if leaf == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, path.Leaf())
	}
	if leaf.StateValue == nil {
		return fmt.Errorf("leaf %d has no state value", path.Leaf())
	}

	value := *leaf.StateValue
	steps := path.Steps()
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		attr, err := g.ActionAttributes(step.Node, step.Action)
		if err != nil {
			return err
		}
		if e.opts.perspective == Alternating {
			value = -value
		}

		switch e.opts.backup {
		case RunningMeanBackup:
			n := attr.VisitCount
			if n < 1 {
				n = 1
			}
			attr.ActionValue += (value - attr.ActionValue) / float64(n)
		default:
			attr.ActionValue = value
			value = meanActionValue(g.Node(step.Node))
		}
	}
	return nil
}

func meanActionValue[S any](n *Node[S]) float64 {
	if len(n.edges) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range n.edges {
		sum += e.Attributes.ActionValue
	}
	return sum / float64(len(n.edges))
}
