package mcts

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteDOT writes the part of g within maxDepth of the root as a Graphviz
// digraph. label renders a state; it may be nil. A negative maxDepth writes
// the whole graph.
func WriteDOT[S State[S]](w io.Writer, g *Graph[S], label func(S) string, maxDepth int) error {
	bw := bufio.NewWriter(w)
	depths := g.Depths()

	fmt.Fprintln(bw, "digraph search {")
	fmt.Fprintln(bw, `  node [shape=box, fontname="monospace", fontsize=8];`)
	fmt.Fprintln(bw, `  edge [fontname="monospace", fontsize=8];`)

	included := func(id NodeID) bool {
		d := depths[id]
		return d >= 0 && (maxDepth < 0 || d <= maxDepth)
	}

	g.Walk(func(id NodeID, n *Node[S]) bool {
		if !included(id) {
			return true
		}
		value := "none"
		if n.StateValue != nil {
			value = fmt.Sprintf("%.2f", *n.StateValue)
		}
		text := "state_value=" + value
		if n.Terminal {
			text += " (terminal)"
		}
		if label != nil {
			text += `\n\n` + strings.ReplaceAll(label(n.State), "\n", `\n`)
		}
		fmt.Fprintf(bw, "  n%d [label=\"%s\"];\n", id, text)
		return true
	})

	g.Walk(func(id NodeID, n *Node[S]) bool {
		if !included(id) {
			return true
		}
		for _, e := range n.edges {
			if !included(e.Target) {
				continue
			}
			fmt.Fprintf(bw, "  n%d -> n%d [label=\"%d\\nN=%d Q=%.2f P=%.2f\"];\n",
				id, e.Target, e.Action, e.Attributes.VisitCount, e.Attributes.ActionValue, e.Attributes.Prior())
		}
		return true
	})

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// FormatRoot renders root summaries as a table, most visited first.
func FormatRoot(children []ChildSummary) string {
	sorted := append([]ChildSummary(nil), children...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].N != sorted[j].N {
			return sorted[i].N > sorted[j].N
		}
		return sorted[i].Action < sorted[j].Action
	})

	total := 0
	for _, c := range sorted {
		total += c.N
	}

	var sb strings.Builder
	sb.WriteString("action      N      %       Q       P\n")
	for _, c := range sorted {
		pct := 0.0
		if total > 0 {
			pct = float64(c.N) / float64(total) * 100
		}
		fmt.Fprintf(&sb, "%6d %6d %6.1f %7.3f %7.3f\n", c.Action, c.N, pct, c.Q, c.P)
	}
	return sb.String()
}
