package mcts

// Step is one (node, action) pair taken during selection.
type Step struct {
	Node   NodeID
	Action int
}

// Path is the trajectory of a single simulation from its root to the leaf
// that gets expanded. Unlike the graph it never merges: a path through a
// transposition keeps the parent it actually came from.
type Path struct {
	root  NodeID
	leaf  NodeID
	steps []Step
}

func NewPath(root NodeID) *Path {
	return &Path{root: root, leaf: root}
}

// Add appends the step from the current leaf to successor.
func (p *Path) Add(action int, successor NodeID) {
	p.steps = append(p.steps, Step{Node: p.leaf, Action: action})
	p.leaf = successor
}

func (p *Path) Root() NodeID { return p.root }
func (p *Path) Leaf() NodeID { return p.leaf }

// Len is the number of actions taken, which is the leaf's depth.
func (p *Path) Len() int { return len(p.steps) }

// Steps returns the steps from root to leaf.
func (p *Path) Steps() []Step { return p.steps }
