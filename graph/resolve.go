package graph

import (
	"sort"

	"golang.org/x/exp/maps"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DependencyMode controls how far activation spreads from the requested
// goal set (see DESIGN.md for the Open Question this resolves).
type DependencyMode int

const (
	// None activates exactly the transitive dependency closure of the
	// goals: the goals themselves plus everything they (transitively)
	// need built first.
	None DependencyMode = iota
	// AllDependencies is a synonym for None in this graph model: a node's
	// full set of prerequisites is always its dependency closure: there is
	// no "partial" dependency tier to opt into separately.
	AllDependencies
	// AllDependants additionally activates the reverse transitive closure
	// of each goal's dependents, so that anything downstream of a goal
	// also gets rebuilt.
	AllDependants
)

// wrapperNode adapts *Node to gonum's graph.Node interface (an int64 ID) for
// topo.Sort's cycle detection.
type wrapperNode struct {
	id int64
	n  *Node
}

func (w wrapperNode) ID() int64 { return w.id }

// Resolve wires dependency/dependent edges between nodes by matching input
// paths against an output-path index, activates the transitive closure of
// goalNames per mode, initializes outstandingPrereqCount, and detects
// cycles among activated nodes.
func Resolve(nodes []*Node, goalNames []string, mode DependencyMode) error {
	index := map[string]*Node{}
	for _, n := range nodes {
		for _, out := range n.OutputPaths {
			if existing, ok := index[out]; ok && existing != n {
				return xerrors.Errorf("multiple producers for %s", out)
			}
			index[out] = n
		}
	}

	for _, n := range nodes {
		for _, in := range n.InputPaths {
			dep, ok := index[in]
			if !ok {
				continue // external source, not produced by any node
			}
			if dep == n {
				continue
			}
			dep.dependents[n] = struct{}{}
			n.dependencies[dep] = struct{}{}
		}
	}

	goals := make([]*Node, 0, len(goalNames))
	for _, g := range goalNames {
		n, ok := index[g]
		if !ok {
			return xerrors.Errorf("no node produces requested goal %s", g)
		}
		goals = append(goals, n)
	}

	activateDependencyClosure(goals)
	if mode == AllDependants {
		activateDependentClosure(goals)
	}

	for _, n := range nodes {
		if !n.activated {
			continue
		}
		count := 0
		for dep := range n.dependencies {
			if dep.activated {
				count++
			}
		}
		n.outstandingPrereqCount = count
	}

	return detectCycle(nodes)
}

func activateDependencyClosure(roots []*Node) {
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.activated {
			continue
		}
		n.activated = true
		for dep := range n.dependencies {
			stack = append(stack, dep)
		}
	}
}

func activateDependentClosure(roots []*Node) {
	stack := append([]*Node(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range n.dependents {
			if dep.activated {
				continue
			}
			dep.activated = true
			stack = append(stack, dep)
		}
	}
}

func detectCycle(nodes []*Node) error {
	g := simple.NewDirectedGraph()
	ids := map[*Node]int64{}
	var next int64
	for _, n := range nodes {
		if !n.activated {
			continue
		}
		ids[n] = next
		g.AddNode(wrapperNode{id: next, n: n})
		next++
	}
	for _, n := range nodes {
		if !n.activated {
			continue
		}
		for dep := range n.dependencies {
			if !dep.activated {
				continue
			}
			g.SetEdge(g.NewEdge(wrapperNode{id: ids[dep], n: dep}, wrapperNode{id: ids[n], n: n}))
		}
	}
	if _, err := topo.Sort(g); err != nil {
		var unorderable topo.Unorderable
		if xerrors.As(err, &unorderable) {
			names := map[string]bool{}
			for _, cycle := range unorderable {
				for _, gn := range cycle {
					names[gn.(wrapperNode).n.GoalName] = true
				}
			}
			sorted := maps.Keys(names)
			sort.Strings(sorted)
			return xerrors.Errorf("dependency cycle detected among nodes: %v", sorted)
		}
		return xerrors.Errorf("cycle detection failed: %w", err)
	}
	return nil
}
