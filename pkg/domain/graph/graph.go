// Package graph validates node specifications into an immutable DAG and
// answers the structural questions the scheduler asks while driving a run.
package graph

import (
	"sort"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// TaskGraph is a validated, immutable DAG of node specifications
type TaskGraph struct {
	nodes      []domain.NodeSpec
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	order      []string
	position   map[string]int
}

// New validates nodes and builds a TaskGraph.
//
// Rejects an empty node list, empty or duplicate ids, self-dependencies,
// references to unknown ids and cycles. Cycle detection uses Kahn's
// algorithm and names one node left on the cycle.
func New(nodes []domain.NodeSpec) (*TaskGraph, error) {
	if len(nodes) == 0 {
		return nil, domain.Invalidf(domain.ReasonEmptyGraph, "", "graph must contain at least one node")
	}

	g := &TaskGraph{
		nodes:      make([]domain.NodeSpec, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		deps:       make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
		position:   make(map[string]int, len(nodes)),
	}

	for i, n := range nodes {
		if n.ID == "" {
			return nil, domain.Invalidf(domain.ReasonEmptyID, "", "node at index %d has an empty id", i)
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, domain.Invalidf(domain.ReasonDuplicateID, n.ID, "duplicate node id")
		}
		g.index[n.ID] = i
		g.nodes[i] = n
	}

	for _, n := range nodes {
		seen := make(map[string]bool, len(n.Dependencies))
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return nil, domain.Invalidf(domain.ReasonSelfDependency, n.ID, "node depends on itself")
			}
			if _, ok := g.index[dep]; !ok {
				return nil, domain.Invalidf(domain.ReasonUnknownDependency, n.ID, "dependency %q does not exist", dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[n.ID] = append(g.deps[n.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], n.ID)
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	for i, id := range order {
		g.position[id] = i
	}
	return g, nil
}

// topoSort runs Kahn's algorithm. Ties are broken by declaration order so
// the result is deterministic.
func (g *TaskGraph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		inDegree[n.ID] = len(g.deps[n.ID])
	}

	var queue []string
	for _, n := range g.nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var released []string
		for _, child := range g.dependents[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				released = append(released, child)
			}
		}
		sort.Slice(released, func(i, j int) bool { return g.index[released[i]] < g.index[released[j]] })
		queue = append(queue, released...)
	}

	if len(order) != len(g.nodes) {
		for _, n := range g.nodes {
			if inDegree[n.ID] > 0 {
				return nil, domain.Invalidf(domain.ReasonCycle, n.ID, "dependency cycle detected (%d of %d nodes unresolved)",
					len(g.nodes)-len(order), len(g.nodes))
			}
		}
	}
	return order, nil
}

// Len returns the number of nodes
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Nodes returns the node specs in declaration order
func (g *TaskGraph) Nodes() []domain.NodeSpec {
	out := make([]domain.NodeSpec, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node looks up a node spec by id
func (g *TaskGraph) Node(id string) (domain.NodeSpec, bool) {
	i, ok := g.index[id]
	if !ok {
		return domain.NodeSpec{}, false
	}
	return g.nodes[i], true
}

// TopologicalOrder returns node ids such that every node follows its dependencies
func (g *TaskGraph) TopologicalOrder() []string {
	return append([]string(nil), g.order...)
}

// Dependencies returns the direct dependencies of id
func (g *TaskGraph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the nodes that directly depend on id
func (g *TaskGraph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Descendants returns every node transitively reachable from id, in topological order
func (g *TaskGraph) Descendants(id string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.dependents[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, g.dependents[cur]...)
	}
	return g.sorted(seen)
}

// Roots returns the entry points, nodes without dependencies, in
// declaration order
func (g *TaskGraph) Roots() []string {
	var out []string
	for _, n := range g.nodes {
		if len(g.deps[n.ID]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Sinks returns the exit points, nodes nothing depends on, in declaration
// order
func (g *TaskGraph) Sinks() []string {
	var out []string
	for _, n := range g.nodes {
		if len(g.dependents[n.ID]) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// ReadySet returns the Pending nodes whose every dependency is Succeeded,
// in topological order. Nodes missing from statuses count as Pending.
func (g *TaskGraph) ReadySet(statuses map[string]domain.NodeStatus) []string {
	var ready []string
	for _, id := range g.order {
		st, ok := statuses[id]
		if ok && st != domain.NodeStatusPending {
			continue
		}
		satisfied := true
		for _, dep := range g.deps[id] {
			if statuses[dep] != domain.NodeStatusSucceeded {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *TaskGraph) sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.position[out[i]] < g.position[out[j]] })
	return out
}
