package mcts

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// MCTS holds the search context
type MCTS[S State[S]] struct {
	Config Config
	Client Evaluator[S]
	Rng    *rand.Rand
	Logger *zerolog.Logger
}

// ChildSummary is a compact view of one root action.
type ChildSummary struct {
	Action int     `json:"action"`
	N      int     `json:"n"`
	Q      float64 `json:"q"`
	P      float64 `json:"p"`
}

// SearchStats are the raw statistics of one search, for logging and
// training metadata.
type SearchStats struct {
	Simulations    int     `json:"simulations"`
	Nodes          int     `json:"nodes"`
	Edges          int     `json:"edges"`
	MeanNodeDepth  float64 `json:"mean_node_depth"`
	MaxDepth       int     `json:"max_depth"`
	MeanLeafDepth  float64 `json:"mean_leaf_depth"`
	TerminalLeaves int     `json:"terminal_leaves"`
}

// SearchResult is everything a search produced. Distribution is the move
// distribution at the configured temperature and doubles as the policy
// training target.
type SearchResult[S State[S]] struct {
	Action       int
	Distribution []float64
	Root         []ChildSummary
	Stats        SearchStats
	Graph        *Graph[S]
}

func (m *MCTS[S]) rng() *rand.Rand {
	if m.Rng == nil {
		m.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return m.Rng
}

func (m *MCTS[S]) selection() SelectionPolicy {
	if m.Config.Sample {
		return Sampling{C: m.Config.Cpuct, Rng: m.rng()}
	}
	return PUCT{C: m.Config.Cpuct}
}

// Search runs simulations from a fresh graph rooted at state and picks a
// move. Nothing is reused between calls. If ctx is cancelled the partial
// result is returned along with ctx.Err().
func (m *MCTS[S]) Search(ctx context.Context, state S, simulations int) (*SearchResult[S], error) {
	logger := zerolog.Nop()
	if m.Logger != nil {
		logger = *m.Logger
	}

	graph := NewGraph(state, m.Config.Mode)
	engine := NewEngine(graph, m.selection(), m.Client,
		WithBackup(m.Config.Backup),
		WithPerspective(m.Config.Perspective),
		WithLogger(logger),
	)
	root := graph.Root()

	result := &SearchResult[S]{Action: -1, Graph: graph}
	leafDepths := 0

	var stopErr error
	for i := 0; i < simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				stopErr = ctx.Err()
			default:
			}
			if stopErr != nil {
				break
			}
		}

		step, err := engine.SimulateStep(ctx, root)
		if err != nil {
			// A deadline inside a step keeps the completed simulations.
			if ctx != nil && ctx.Err() != nil {
				stopErr = ctx.Err()
				break
			}
			m.fillStats(result, leafDepths)
			return result, fmt.Errorf("simulation %d: %w", i, err)
		}
		result.Stats.Simulations++
		leafDepths += step.Path.Len()
		if step.Expansion.Outcome == Terminal {
			result.Stats.TerminalLeaves++
		}

		// A root without successors stays that way; further steps would only
		// re-evaluate it.
		if step.Path.Len() == 0 && step.Expansion.Outcome != Expanded {
			break
		}
	}

	m.fillStats(result, leafDepths)

	actionSpace := m.Config.ActionSpace
	if actionSpace <= 0 {
		for _, a := range graph.Actions(root) {
			if a+1 > actionSpace {
				actionSpace = a + 1
			}
		}
	}

	dist, err := MoveDistribution(graph, root, actionSpace, m.Config.Temperature)
	if err != nil {
		if stopErr != nil {
			return result, stopErr
		}
		return result, fmt.Errorf("extract distribution: %w", err)
	}
	result.Distribution = dist
	if m.Config.Temperature == 0 {
		result.Action = Argmax(dist)
	} else {
		result.Action = SampleAction(m.rng(), dist)
	}

	logger.Debug().
		Int("action", result.Action).
		Int("simulations", result.Stats.Simulations).
		Int("nodes", result.Stats.Nodes).
		Float64("mean_depth", result.Stats.MeanNodeDepth).
		Msg("search complete")

	return result, stopErr
}

func (m *MCTS[S]) fillStats(result *SearchResult[S], leafDepths int) {
	g := result.Graph
	root := g.Root()

	for _, e := range g.Node(root).Edges() {
		result.Root = append(result.Root, ChildSummary{
			Action: e.Action,
			N:      e.Attributes.VisitCount,
			Q:      e.Attributes.ActionValue,
			P:      e.Attributes.Prior(),
		})
	}

	result.Stats.Nodes = g.Len()
	result.Stats.Edges = g.EdgeCount()
	if result.Stats.Simulations > 0 {
		result.Stats.MeanLeafDepth = float64(leafDepths) / float64(result.Stats.Simulations)
	}

	sum, reached := 0, 0
	for _, d := range g.Depths() {
		if d < 0 {
			continue
		}
		sum += d
		reached++
		if d > result.Stats.MaxDepth {
			result.Stats.MaxDepth = d
		}
	}
	if reached > 0 {
		result.Stats.MeanNodeDepth = float64(sum) / float64(reached)
	}
}

// GetNextMove runs a search from state and returns the chosen action.
func (m *MCTS[S]) GetNextMove(ctx context.Context, state S, simulations int) (int, error) {
	result, err := m.Search(ctx, state, simulations)
	if err != nil {
		return -1, err
	}
	return result.Action, nil
}
