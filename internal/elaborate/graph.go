// Copyright Contributors to the Sykli project

package elaborate

import "github.com/yairfalse/sykli/internal/pipeline"

// NodeKind distinguishes ordinary tasks from gate pseudo-tasks; both
// share the same dependency-graph machinery. Downstream dependencies
// see a gate as a predecessor that completes on approval.
type NodeKind string

const (
	NodeTask NodeKind = "task"
	NodeGate NodeKind = "gate"
)

// PruneReason records why a node was removed from scheduling by the
// condition-evaluation pass.
const PruneReasonConditionFalse = "condition_false"

// Node is one concrete task (or gate) in the elaborated DAG: a
// resolved name, a fully-merged spec, and explicit DependsOn edges —
// including those implied by input_from, group membership, and needs.
type Node struct {
	Name string
	Kind NodeKind

	Task pipeline.Task // valid iff Kind == NodeTask
	Gate pipeline.Gate // valid iff Kind == NodeGate

	// MatrixValues holds the dimension→value assignment that produced
	// this node, empty for non-matrix tasks.
	MatrixValues map[string]string

	DependsOn []string

	Pruned      bool
	PruneReason string
}

// Graph is the immutable, elaborated DAG handed to the scheduler.
// Nodes is keyed by final node name; Order preserves first-declared
// order (pipeline identity is observable but not semantically
// significant beyond emission order).
type Graph struct {
	PipelineName string
	Nodes        map[string]*Node
	Order        []string

	dependents map[string][]string // lazily built reverse-edge index
}

// Get returns the node with the given name.
func (g *Graph) Get(name string) (*Node, bool) {
	n, ok := g.Nodes[name]
	return n, ok
}

// Dependents returns the names of nodes that directly depend on name,
// in declaration order.
func (g *Graph) Dependents(name string) []string {
	if g.dependents == nil {
		g.dependents = make(map[string][]string, len(g.Nodes))
		for _, n := range g.Order {
			node := g.Nodes[n]
			for _, dep := range node.DependsOn {
				g.dependents[dep] = append(g.dependents[dep], n)
			}
		}
	}
	return g.dependents[name]
}

// Roots returns every node with no (unpruned) predecessors, in
// declaration order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, name := range g.Order {
		n := g.Nodes[name]
		if n.Pruned {
			continue
		}
		if len(activeDeps(g, n)) == 0 {
			roots = append(roots, name)
		}
	}
	return roots
}

// activeDeps filters DependsOn down to predecessors that still
// participate: pruned nodes drop out as predecessors.
func activeDeps(g *Graph, n *Node) []string {
	var out []string
	for _, d := range n.DependsOn {
		if dn, ok := g.Nodes[d]; ok && dn.Pruned {
			continue
		}
		out = append(out, d)
	}
	return out
}

// ActiveDependsOn is the exported form of activeDeps, used by the
// scheduler to compute in-degree.
func (g *Graph) ActiveDependsOn(name string) []string {
	n := g.Nodes[name]
	return activeDeps(g, n)
}
