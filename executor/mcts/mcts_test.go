package mcts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/xxh3"
)

// toyState is a hand-written game graph: each state is a name and the
// successors of a name are listed in tree. Names missing from tree are
// finished games.
type toyState struct {
	name string
	tree map[string][]string
}

func (s toyState) LegalActions() []int {
	children := s.tree[s.name]
	actions := make([]int, len(children))
	for i := range children {
		actions[i] = i
	}
	return actions
}

func (s toyState) Apply(action int) toyState {
	return toyState{name: s.tree[s.name][action], tree: s.tree}
}

func (s toyState) Hash() uint64 { return xxh3.HashString(s.name) }

func (s toyState) Equal(other toyState) bool { return s.name == other.name }

func toy(root string, tree map[string][]string) toyState {
	return toyState{name: root, tree: tree}
}

// binaryTree returns a complete binary game tree of the given depth.
func binaryTree(depth int) map[string][]string {
	tree := map[string][]string{}
	var build func(name string, d int)
	build = func(name string, d int) {
		if d == depth {
			return
		}
		tree[name] = []string{name + "0", name + "1"}
		build(name+"0", d+1)
		build(name+"1", d+1)
	}
	build("r", 0)
	return tree
}

// constantEvaluator gives every legal action the same prior list and value.
func constantEvaluator(priors []float64, value float64) EvaluatorFunc[toyState] {
	return func(_ context.Context, actions []int, s toyState) (Evaluation, error) {
		if len(actions) == 0 {
			return Evaluation{Value: value, Terminal: true}, nil
		}
		out := make([]float64, len(actions))
		copy(out, priors)
		return Evaluation{Priors: out, Value: value}, nil
	}
}

func uniformEvaluator(value float64) EvaluatorFunc[toyState] {
	return func(_ context.Context, actions []int, s toyState) (Evaluation, error) {
		if len(actions) == 0 {
			return Evaluation{Value: value, Terminal: true}, nil
		}
		priors := make([]float64, len(actions))
		for i := range priors {
			priors[i] = 1 / float64(len(actions))
		}
		return Evaluation{Priors: priors, Value: value}, nil
	}
}

func threeWay() map[string][]string {
	return map[string][]string{
		"r":  {"a", "b", "c"},
		"a":  {"aa", "ab", "ac"},
		"b":  {"ba", "bb", "bc"},
		"c":  {"ca", "cb", "cc"},
		"aa": {"aaa"},
	}
}

func rootSum(t *testing.T, g *Graph[toyState]) int {
	t.Helper()
	_, counts := g.VisitCounts(g.Root())
	sum := 0
	for _, c := range counts {
		sum += c
	}
	return sum
}

func TestSimulateStep_FirstStepsFollowPrior(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	e := NewEngine(g, PUCT{C: 1}, constantEvaluator([]float64{1, 0, 0}, 1))
	ctx := context.Background()
	root := g.Root()

	step, err := e.SimulateStep(ctx, root)
	require.NoError(t, err)
	require.Equal(t, 0, step.Path.Len())
	require.Equal(t, Expanded, step.Expansion.Outcome)

	require.Equal(t, []int{0, 1, 2}, g.Actions(root))
	for _, a := range g.Actions(root) {
		attr, err := g.ActionAttributes(root, a)
		require.NoError(t, err)
		require.Equal(t, 0, attr.VisitCount)
		require.Equal(t, 0.0, attr.ActionValue)
	}
	require.NotNil(t, g.Node(root).StateValue)
	require.Equal(t, 1.0, *g.Node(root).StateValue)

	step, err = e.SimulateStep(ctx, root)
	require.NoError(t, err)
	require.Equal(t, []Step{{Node: root, Action: 0}}, step.Path.Steps())

	attr, err := g.ActionAttributes(root, 0)
	require.NoError(t, err)
	require.Equal(t, 1, attr.VisitCount)
	require.Equal(t, 1.0, attr.ActionValue, "the action into the leaf takes the leaf's value")

	child, err := g.Successor(root, 0)
	require.NoError(t, err)
	require.True(t, g.HasSuccessors(child))
	require.Equal(t, 1, rootSum(t, g))
}

func TestExpand_Twice(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	e := NewEngine(g, PUCT{C: 1}, uniformEvaluator(0))

	_, err := e.Expand(context.Background(), g.Root())
	require.NoError(t, err)
	_, err = e.Expand(context.Background(), g.Root())
	require.ErrorIs(t, err, ErrAlreadyExpanded)
}

func TestExpand_TerminalShortCircuit(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	ev := EvaluatorFunc[toyState](func(_ context.Context, actions []int, _ toyState) (Evaluation, error) {
		// The game is over even though the state still lists actions.
		return Evaluation{Priors: []float64{0.5, 0.5, 0}, Value: -1, Terminal: true}, nil
	})
	e := NewEngine(g, PUCT{C: 1}, ev)

	exp, err := e.Expand(context.Background(), g.Root())
	require.NoError(t, err)
	require.Equal(t, Terminal, exp.Outcome)
	require.Equal(t, []float64{0, 0, 0}, exp.Evaluation.Priors)
	require.False(t, g.HasSuccessors(g.Root()))
	require.True(t, g.Node(g.Root()).Terminal)
	require.Equal(t, -1.0, *g.Node(g.Root()).StateValue)
}

func TestExpand_NoActions(t *testing.T) {
	g := NewGraph(toy("leaf", threeWay()), Merging)
	ev := EvaluatorFunc[toyState](func(_ context.Context, actions []int, _ toyState) (Evaluation, error) {
		return Evaluation{Value: 0.25}, nil
	})
	e := NewEngine(g, PUCT{C: 1}, ev)

	exp, err := e.Expand(context.Background(), g.Root())
	require.NoError(t, err)
	require.Equal(t, NoActions, exp.Outcome)
	require.False(t, g.HasSuccessors(g.Root()))
	require.Equal(t, 0.25, *g.Node(g.Root()).StateValue)
}

func TestExpand_RejectsBadEvaluations(t *testing.T) {
	nan := 0.0
	nan = nan / nan

	cases := []struct {
		name string
		ev   Evaluation
	}{
		{name: "too few priors", ev: Evaluation{Priors: []float64{0.5, 0.5}}},
		{name: "too many priors", ev: Evaluation{Priors: []float64{0.25, 0.25, 0.25, 0.25}}},
		{name: "negative prior", ev: Evaluation{Priors: []float64{1.5, -0.5, 0}}},
		{name: "nan prior", ev: Evaluation{Priors: []float64{nan, 0, 0}}},
		{name: "nan value", ev: Evaluation{Priors: []float64{1, 0, 0}, Value: nan}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGraph(toy("r", threeWay()), Merging)
			ev := tc.ev
			e := NewEngine(g, PUCT{C: 1}, EvaluatorFunc[toyState](func(context.Context, []int, toyState) (Evaluation, error) {
				return ev, nil
			}))

			_, err := e.SimulateStep(context.Background(), g.Root())
			require.ErrorIs(t, err, ErrInvalidEvaluation)
			require.False(t, g.HasSuccessors(g.Root()), "nothing may be written after a rejected evaluation")
			require.Nil(t, g.Node(g.Root()).StateValue)
		})
	}
}

func TestSimulateStep_VisitConservation(t *testing.T) {
	for _, mode := range []Mode{Merging, Tree} {
		t.Run(mode.String(), func(t *testing.T) {
			g := NewGraph(toy("r", binaryTree(4)), mode)
			e := NewEngine(g, PUCT{C: 1.5}, uniformEvaluator(0.1))

			const n = 50
			for i := 0; i < n; i++ {
				_, err := e.SimulateStep(context.Background(), g.Root())
				require.NoError(t, err)
			}
			require.Equal(t, n-1, rootSum(t, g))

			// Every expanded node was traversed exactly as often as its
			// actions were visited, in a tree.
			if mode == Tree {
				incoming := map[NodeID]int{}
				g.Walk(func(id NodeID, n *Node[toyState]) bool {
					for _, e := range n.Edges() {
						incoming[e.Target] += e.Attributes.VisitCount
					}
					return true
				})
				g.Walk(func(id NodeID, n *Node[toyState]) bool {
					if id == g.Root() || len(n.Edges()) == 0 {
						return true
					}
					out := 0
					for _, e := range n.Edges() {
						out += e.Attributes.VisitCount
					}
					require.Equal(t, incoming[id]-1, out, "node %d", id)
					return true
				})
			}
		})
	}

	t.Run("terminal root", func(t *testing.T) {
		g := NewGraph(toy("end", nil), Merging)
		e := NewEngine(g, PUCT{C: 1}, uniformEvaluator(1))
		for i := 0; i < 5; i++ {
			step, err := e.SimulateStep(context.Background(), g.Root())
			require.NoError(t, err)
			require.Equal(t, Terminal, step.Expansion.Outcome)
		}
		require.Equal(t, 0, rootSum(t, g))
	})
}

// pickUnvisited selects the first action nobody has tried yet.
var pickUnvisited = SelectionFunc(func(actions []int, attributes []ActionAttributes) (int, error) {
	for i, a := range attributes {
		if a.VisitCount == 0 {
			return actions[i], nil
		}
	}
	return actions[0], nil
})

// backupFixture builds root -> p, where p has a visited action worth -0.6
// and an unvisited sibling leading to a finished game.
func backupFixture(t *testing.T, opts ...Option) (*Engine[toyState], NodeID, NodeID) {
	t.Helper()
	tree := map[string][]string{
		"r": {"p"},
		"p": {"a", "b"},
		"a": {"aa"},
	}
	g := NewGraph(toy("r", tree), Merging)
	e := NewEngine(g, pickUnvisited, EvaluatorFunc[toyState](func(_ context.Context, actions []int, s toyState) (Evaluation, error) {
		if len(actions) == 0 {
			return Evaluation{Value: 1.0, Terminal: true}, nil
		}
		priors := make([]float64, len(actions))
		priors[0] = 1
		return Evaluation{Priors: priors, Value: 0}, nil
	}), opts...)

	root := g.Root()
	_, err := e.Expand(context.Background(), root)
	require.NoError(t, err)
	p, err := g.Successor(root, 0)
	require.NoError(t, err)
	_, err = e.Expand(context.Background(), p)
	require.NoError(t, err)

	rp, err := g.ActionAttributes(root, 0)
	require.NoError(t, err)
	rp.VisitCount = 1
	rp.ActionValue = -0.6

	pa, err := g.ActionAttributes(p, 0)
	require.NoError(t, err)
	pa.VisitCount = 1
	pa.ActionValue = -0.6

	return e, root, p
}

func TestBackup_TerminalSibling(t *testing.T) {
	t.Run("mean", func(t *testing.T) {
		e, root, p := backupFixture(t)
		step, err := e.SimulateStep(context.Background(), root)
		require.NoError(t, err)
		require.Equal(t, Terminal, step.Expansion.Outcome)
		require.Equal(t, 2, step.Path.Len())

		pb, err := e.Graph().ActionAttributes(p, 1)
		require.NoError(t, err)
		require.Equal(t, 1.0, pb.ActionValue)
		require.Equal(t, 1, pb.VisitCount)

		rp, err := e.Graph().ActionAttributes(root, 0)
		require.NoError(t, err)
		require.InDelta(t, (-0.6+1.0)/2, rp.ActionValue, 1e-12)
		require.Equal(t, 2, rp.VisitCount)
	})

	t.Run("running mean", func(t *testing.T) {
		e, root, p := backupFixture(t, WithBackup(RunningMeanBackup))
		_, err := e.SimulateStep(context.Background(), root)
		require.NoError(t, err)

		pb, err := e.Graph().ActionAttributes(p, 1)
		require.NoError(t, err)
		require.Equal(t, 1.0, pb.ActionValue)

		rp, err := e.Graph().ActionAttributes(root, 0)
		require.NoError(t, err)
		require.InDelta(t, -0.6+(1.0+0.6)/2, rp.ActionValue, 1e-12)
	})

	t.Run("alternating perspective", func(t *testing.T) {
		e, root, p := backupFixture(t, WithPerspective(Alternating))
		_, err := e.SimulateStep(context.Background(), root)
		require.NoError(t, err)

		pb, err := e.Graph().ActionAttributes(p, 1)
		require.NoError(t, err)
		require.Equal(t, -1.0, pb.ActionValue)

		rp, err := e.Graph().ActionAttributes(root, 0)
		require.NoError(t, err)
		require.InDelta(t, -((-0.6-1.0)/2), rp.ActionValue, 1e-12)
	})
}

func TestBackup_UnevaluatedLeaf(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	e := NewEngine(g, PUCT{C: 1}, uniformEvaluator(0))
	require.Error(t, e.Backup(NewPath(g.Root())))
}

func TestSelect_ForeignAction(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	bad := SelectionFunc(func([]int, []ActionAttributes) (int, error) { return 9, nil })
	e := NewEngine(g, bad, uniformEvaluator(0))

	_, err := e.SimulateStep(context.Background(), g.Root())
	require.NoError(t, err)
	_, err = e.SimulateStep(context.Background(), g.Root())
	require.ErrorIs(t, err, ErrActionNotFound)
}

func TestSimulateStep_EvaluatorError(t *testing.T) {
	g := NewGraph(toy("r", threeWay()), Merging)
	boom := context.DeadlineExceeded
	e := NewEngine(g, PUCT{C: 1}, EvaluatorFunc[toyState](func(context.Context, []int, toyState) (Evaluation, error) {
		return Evaluation{}, boom
	}))
	_, err := e.SimulateStep(context.Background(), g.Root())
	require.ErrorIs(t, err, boom)
}

func TestSimulateStep_FailedStepReleasesVisits(t *testing.T) {
	g := NewGraph(toy("r", binaryTree(3)), Tree)
	calls := 0
	inner := uniformEvaluator(0.5)
	e := NewEngine(g, PUCT{C: 1}, EvaluatorFunc[toyState](func(ctx context.Context, actions []int, s toyState) (Evaluation, error) {
		calls++
		if calls == 4 {
			return Evaluation{}, context.Canceled
		}
		return inner(ctx, actions, s)
	}))

	for i := 0; i < 3; i++ {
		_, err := e.SimulateStep(context.Background(), g.Root())
		require.NoError(t, err)
	}
	require.Equal(t, 2, rootSum(t, g))
	before := map[NodeID][]int{}
	g.Walk(func(id NodeID, _ *Node[toyState]) bool {
		_, counts := g.VisitCounts(id)
		before[id] = counts
		return true
	})

	step, err := e.SimulateStep(context.Background(), g.Root())
	require.ErrorIs(t, err, context.Canceled)
	require.NotZero(t, step.Path.Len())

	g.Walk(func(id NodeID, _ *Node[toyState]) bool {
		_, counts := g.VisitCounts(id)
		require.Equal(t, before[id], counts, "node %d", id)
		return true
	})
}
