package mcts

import "fmt"

// Graph owns every state discovered by one search as an arena of nodes.
// In Merging mode equal states share a node, found through a hash index.
// The graph is not safe for concurrent use.
type Graph[S State[S]] struct {
	mode  Mode
	nodes []Node[S]
	index map[uint64][]NodeID
	edges int
}

// NewGraph creates a graph holding only root, unexpanded and unevaluated.
// The root handle never changes.
func NewGraph[S State[S]](root S, mode Mode) *Graph[S] {
	g := &Graph[S]{
		mode:  mode,
		nodes: make([]Node[S], 0, 256),
	}
	if mode == Merging {
		g.index = make(map[uint64][]NodeID, 256)
	}
	g.insert(root)
	return g
}

func (g *Graph[S]) insert(state S) NodeID {
	id := NodeID(len(g.nodes))
	g.nodes = append(g.nodes, Node[S]{State: state})
	if g.index != nil {
		h := state.Hash()
		g.index[h] = append(g.index[h], id)
	}
	return id
}

// Mode reports how states are identified.
func (g *Graph[S]) Mode() Mode { return g.mode }

// Root is the handle of the state the graph was created with.
func (g *Graph[S]) Root() NodeID { return 0 }

// Len is the number of nodes.
func (g *Graph[S]) Len() int { return len(g.nodes) }

// EdgeCount is the number of edges.
func (g *Graph[S]) EdgeCount() int { return g.edges }

func (g *Graph[S]) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// Node returns the node for id, or nil for a foreign handle. The pointer is
// only valid until the next node is added.
func (g *Graph[S]) Node(id NodeID) *Node[S] {
	if !g.valid(id) {
		return nil
	}
	return &g.nodes[id]
}

// State returns the state held by id.
func (g *Graph[S]) State(id NodeID) (S, error) {
	if !g.valid(id) {
		var zero S
		return zero, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return g.nodes[id].State, nil
}

// Lookup finds the node holding a state equal to state. It only finds
// anything in Merging mode, apart from the root.
func (g *Graph[S]) Lookup(state S) (NodeID, bool) {
	if g.index == nil {
		if g.nodes[0].State.Equal(state) {
			return 0, true
		}
		return NoNode, false
	}
	for _, id := range g.index[state.Hash()] {
		if g.nodes[id].State.Equal(state) {
			return id, true
		}
	}
	return NoNode, false
}

// AddSuccessor records that playing action from source leads to target.
// The new edge starts with default attributes.
func (g *Graph[S]) AddSuccessor(source NodeID, action int, target S) (NodeID, error) {
	if !g.valid(source) {
		return NoNode, fmt.Errorf("%w: %d", ErrNodeNotFound, source)
	}
	for _, e := range g.nodes[source].edges {
		if e.Action == action {
			return NoNode, fmt.Errorf("%w: action %d from node %d", ErrActionAlreadyExists, action, source)
		}
	}

	id := NoNode
	if g.mode == Merging {
		if existing, ok := g.Lookup(target); ok {
			id = existing
		}
	}
	if id == NoNode {
		id = g.insert(target)
	}

	// insert may have grown the arena, so index source again.
	n := &g.nodes[source]
	n.edges = append(n.edges, Edge{Action: action, Target: id})
	g.edges++
	return id, nil
}

// Actions returns the tried actions from source in insertion order.
func (g *Graph[S]) Actions(source NodeID) []int {
	if !g.valid(source) {
		return nil
	}
	edges := g.nodes[source].edges
	out := make([]int, len(edges))
	for i, e := range edges {
		out[i] = e.Action
	}
	return out
}

// Successor returns the node reached by playing action from source.
func (g *Graph[S]) Successor(source NodeID, action int) (NodeID, error) {
	e, err := g.edge(source, action)
	if err != nil {
		return NoNode, err
	}
	return e.Target, nil
}

// HasSuccessors reports whether source has been expanded with at least one
// action.
func (g *Graph[S]) HasSuccessors(source NodeID) bool {
	return g.valid(source) && len(g.nodes[source].edges) > 0
}

// ActionAttributes returns the mutable statistics of one edge. The pointer
// stays valid until another successor is added to source.
func (g *Graph[S]) ActionAttributes(source NodeID, action int) (*ActionAttributes, error) {
	e, err := g.edge(source, action)
	if err != nil {
		return nil, err
	}
	return &e.Attributes, nil
}

func (g *Graph[S]) edge(source NodeID, action int) (*Edge, error) {
	if !g.valid(source) {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, source)
	}
	edges := g.nodes[source].edges
	for i := range edges {
		if edges[i].Action == action {
			return &edges[i], nil
		}
	}
	return nil, fmt.Errorf("%w: action %d from node %d", ErrActionNotFound, action, source)
}

// Depths returns the shortest distance from the root to every node.
func (g *Graph[S]) Depths() []int {
	depth := make([]int, len(g.nodes))
	for i := range depth {
		depth[i] = -1
	}
	depth[0] = 0
	queue := []NodeID{0}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.nodes[id].edges {
			if depth[e.Target] < 0 {
				depth[e.Target] = depth[id] + 1
				queue = append(queue, e.Target)
			}
		}
	}
	return depth
}

// Walk calls fn for every node in handle order until fn returns false.
func (g *Graph[S]) Walk(fn func(id NodeID, n *Node[S]) bool) {
	for i := range g.nodes {
		if !fn(NodeID(i), &g.nodes[i]) {
			return
		}
	}
}
