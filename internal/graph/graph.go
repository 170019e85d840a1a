// Package graph implements the task relationship graph and its cycle-safe
// edge insertion. The graph is a value: operations take a snapshot and
// return a new one, so concurrent callers never share mutable state.
//
// Directed edge types (prerequisite, blocks) form the subgraph that must
// stay acyclic; related edges are symmetric and excluded from cycle checks.
package graph

import (
	"sort"

	"taskloom/internal/plan"
)

// edgeKey identifies an edge slot. At most one directed edge may exist per
// (source, target) pair; related edges are stored under their normalized
// orientation so a-related-b and b-related-a occupy the same slot.
type edgeKey struct {
	a, b    string
	related bool
}

func keyFor(e plan.Edge) edgeKey {
	if e.Type == plan.EdgeRelated {
		a, b := e.Source, e.Target
		if b < a {
			a, b = b, a
		}
		return edgeKey{a: a, b: b, related: true}
	}
	return edgeKey{a: e.Source, b: e.Target}
}

// Graph is a snapshot of tasks and typed relationship edges.
type Graph struct {
	tasks map[string]plan.Task
	edges map[edgeKey]plan.Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		tasks: make(map[string]plan.Task),
		edges: make(map[edgeKey]plan.Edge),
	}
}

// AddTask adds or replaces a task node.
func (g *Graph) AddTask(t plan.Task) error {
	if t.ID == "" {
		return &plan.StructuralError{Op: "AddTask", Detail: "empty task id"}
	}
	g.tasks[t.ID] = t
	return nil
}

// Task returns the task for an id.
func (g *Graph) Task(id string) (plan.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// HasTask reports whether the id is a known task.
func (g *Graph) HasTask(id string) bool {
	_, ok := g.tasks[id]
	return ok
}

// Tasks returns all tasks sorted by id.
func (g *Graph) Tasks() []plan.Task {
	out := make([]plan.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges sorted by (source, target, type).
func (g *Graph) Edges() []plan.Edge {
	out := make([]plan.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// DirectedEdges returns the prerequisite/blocks subgraph's edges sorted.
func (g *Graph) DirectedEdges() []plan.Edge {
	out := make([]plan.Edge, 0, len(g.edges))
	for k, e := range g.edges {
		if !k.related {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out
}

// DirectedEdge returns the directed edge between source and target, if any.
func (g *Graph) DirectedEdge(source, target string) (plan.Edge, bool) {
	e, ok := g.edges[edgeKey{a: source, b: target}]
	return e, ok
}

// setEdge installs an edge without any cycle checking. Callers outside
// this package must go through ProposeEdges.
func (g *Graph) setEdge(e plan.Edge) {
	g.edges[keyFor(e)] = e
}

// removeEdge deletes an edge slot.
func (g *Graph) removeEdge(e plan.Edge) {
	delete(g.edges, keyFor(e))
}

// InDegree returns the number of directed edges pointing at the task.
func (g *Graph) InDegree(id string) int {
	n := 0
	for k := range g.edges {
		if !k.related && k.b == id {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		tasks: make(map[string]plan.Task, len(g.tasks)),
		edges: make(map[edgeKey]plan.Edge, len(g.edges)),
	}
	for id, t := range g.tasks {
		out.tasks[id] = t
	}
	for k, e := range g.edges {
		out.edges[k] = e
	}
	return out
}

// HasPath reports whether a directed path of at most maxHops edges exists
// from one task to another. BFS over the directed subgraph.
func (g *Graph) HasPath(from, to string, maxHops int) bool {
	if maxHops <= 0 {
		maxHops = 5
	}
	if from == to {
		return true
	}

	adjacency := g.directedAdjacency()

	type queueItem struct {
		id    string
		depth int
	}
	visited := map[string]bool{from: true}
	queue := []queueItem{{id: from, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxHops {
			continue
		}
		for _, next := range adjacency[current.id] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, queueItem{id: next, depth: current.depth + 1})
			}
		}
	}
	return false
}

// directedAdjacency builds source -> sorted targets over directed edges.
func (g *Graph) directedAdjacency() map[string][]string {
	adj := make(map[string][]string)
	for k := range g.edges {
		if k.related {
			continue
		}
		adj[k.a] = append(adj[k.a], k.b)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

func sortEdges(edges []plan.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Type < edges[j].Type
	})
}
