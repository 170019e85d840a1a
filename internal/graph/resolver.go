package graph

import (
	"fmt"
	"sort"

	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// ResolvedConflict reports one edge removed while breaking a cycle, with
// the cycle it broke, so the resolution can be audited afterwards.
type ResolvedConflict struct {
	Removed plan.Edge   `json:"removed"`
	Cycle   []plan.Edge `json:"cycle,omitempty"`
	Reason  string      `json:"reason"`
}

// ProposalResult is the outcome of a cycle-safe edge proposal.
type ProposalResult struct {
	// Graph is the new snapshot with accepted edges installed.
	Graph *Graph
	// Accepted are the candidate edges that survived resolution.
	Accepted []plan.Edge
	// Conflicts are the edges removed (candidates or pre-existing) and why.
	Conflicts []ResolvedConflict
}

// ProposeEdges inserts candidate edges into a snapshot of the graph,
// breaking any cycle they introduce by removing the lowest-confidence edge
// in the cycle. Ties prefer removing the edge whose target already has the
// larger number of incoming edges; remaining ties fall back to edge key
// order so identical inputs always resolve identically.
//
// Structural faults (unknown endpoint, out-of-range confidence) reject the
// whole batch; nothing is partially applied.
func ProposeEdges(g *Graph, candidates []plan.Edge) (*ProposalResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "ProposeEdges")
	defer timer.Stop()

	if err := validateCandidates(g, candidates); err != nil {
		return nil, err
	}

	work := g.Clone()
	var conflicts []ResolvedConflict

	// Install candidates, applying the merge rule for an occupied slot:
	// higher confidence wins; the loser is reported, not silently dropped.
	rejected := make(map[edgeKey]bool)
	for _, cand := range candidates {
		key := keyFor(cand)
		existing, occupied := work.edges[key]
		if occupied && existing.Type != cand.Type {
			if cand.Confidence > existing.Confidence {
				conflicts = append(conflicts, ResolvedConflict{
					Removed: existing,
					Reason:  fmt.Sprintf("merged: replaced by %s edge with higher confidence", cand.Type),
				})
				work.setEdge(cand)
			} else {
				conflicts = append(conflicts, ResolvedConflict{
					Removed: cand,
					Reason:  fmt.Sprintf("merged: existing %s edge has higher confidence", existing.Type),
				})
				rejected[key] = true
			}
			continue
		}
		if occupied && cand.Confidence < existing.Confidence {
			// Same identity, weaker evidence: keep the stronger weight.
			continue
		}
		work.setEdge(cand)
	}

	// Break cycles in the directed subgraph. Each round removes exactly one
	// edge from one cycle, so the loop terminates in at most |edges| rounds.
	for {
		remaining := kahnRemaining(work)
		if len(remaining) == 0 {
			break
		}

		cycle := extractCycle(work, remaining)
		if len(cycle) == 0 {
			// Unreachable if kahnRemaining is correct; treat as fatal.
			return nil, &plan.CycleError{Op: "ProposeEdges", Edges: work.DirectedEdges()}
		}

		victim := pickVictim(work, cycle)
		work.removeEdge(victim)
		conflicts = append(conflicts, ResolvedConflict{
			Removed: victim,
			Cycle:   cycle,
			Reason:  "lowest-confidence edge in cycle",
		})
		logging.Audit().CycleResolved(victim.Source, victim.Target, string(victim.Type), victim.Confidence, len(cycle))
		logging.GraphDebug("Cycle broken: removed %s-[%s]->%s (conf=%.2f, cycle_len=%d)",
			victim.Source, victim.Type, victim.Target, victim.Confidence, len(cycle))
	}

	// Acyclicity invariant must hold now; anything else is an internal
	// fault, aborted rather than returned as a quietly inconsistent graph.
	if remaining := kahnRemaining(work); len(remaining) != 0 {
		err := &plan.CycleError{Op: "ProposeEdges", Edges: work.DirectedEdges()}
		logging.Get(logging.CategoryGraph).Error("%v", err)
		return nil, err
	}

	var accepted []plan.Edge
	seen := make(map[edgeKey]bool, len(candidates))
	for _, cand := range candidates {
		key := keyFor(cand)
		if rejected[key] || seen[key] {
			continue
		}
		if installed, ok := work.edges[key]; ok && installed.Type == cand.Type {
			accepted = append(accepted, installed)
			seen[key] = true
		}
	}
	sortEdges(accepted)

	logging.Graph("ProposeEdges: %d candidates, %d accepted, %d conflicts",
		len(candidates), len(accepted), len(conflicts))

	return &ProposalResult{Graph: work, Accepted: accepted, Conflicts: conflicts}, nil
}

// validateCandidates rejects structurally malformed batches outright.
func validateCandidates(g *Graph, candidates []plan.Edge) error {
	for _, e := range candidates {
		if e.Source == "" || e.Target == "" {
			return &plan.StructuralError{Op: "ProposeEdges", Detail: "edge with empty endpoint"}
		}
		if !g.HasTask(e.Source) {
			return &plan.StructuralError{Op: "ProposeEdges", TaskID: e.Source, Detail: "edge references unknown task"}
		}
		if !g.HasTask(e.Target) {
			return &plan.StructuralError{Op: "ProposeEdges", TaskID: e.Target, Detail: "edge references unknown task"}
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return &plan.StructuralError{Op: "ProposeEdges", TaskID: e.Source,
				Detail: fmt.Sprintf("confidence %.3f outside [0,1]", e.Confidence)}
		}
		switch e.Type {
		case plan.EdgePrerequisite, plan.EdgeBlocks, plan.EdgeRelated:
		default:
			return &plan.StructuralError{Op: "ProposeEdges", TaskID: e.Source,
				Detail: fmt.Sprintf("unknown edge type %q", e.Type)}
		}
	}
	return nil
}

// kahnRemaining runs Kahn's algorithm over the directed subgraph and
// returns the node set that could not be removed. Empty means acyclic.
func kahnRemaining(g *Graph) map[string]bool {
	inDegree := make(map[string]int)
	adjacency := make(map[string][]string)
	nodes := make(map[string]bool)

	for k := range g.edges {
		if k.related {
			continue
		}
		nodes[k.a] = true
		nodes[k.b] = true
		inDegree[k.b]++
		adjacency[k.a] = append(adjacency[k.a], k.b)
	}

	// Deterministic removal order.
	var queue []string
	for id := range nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++

		targets := append([]string(nil), adjacency[id]...)
		sort.Strings(targets)
		for _, t := range targets {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
		delete(nodes, id)
	}

	// nodes now holds exactly the vertices inside (or downstream-locked by)
	// cycles: every one of them retains positive in-degree.
	return nodes
}

// extractCycle walks the directed subgraph restricted to the remaining
// node set until a vertex repeats, then returns the cycle's edge list.
// Kahn's leftover set also contains nodes merely downstream of a cycle,
// so zero-out-degree nodes are trimmed first to isolate the cycle core.
func extractCycle(g *Graph, remaining map[string]bool) []plan.Edge {
	core := make(map[string]bool, len(remaining))
	for id := range remaining {
		core[id] = true
	}
	for {
		trimmed := false
		for id := range core {
			hasOut := false
			for k := range g.edges {
				if !k.related && k.a == id && core[k.b] {
					hasOut = true
					break
				}
			}
			if !hasOut {
				delete(core, id)
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}

	adjacency := make(map[string][]string)
	for k := range g.edges {
		if k.related || !core[k.a] || !core[k.b] {
			continue
		}
		adjacency[k.a] = append(adjacency[k.a], k.b)
	}
	for id := range adjacency {
		sort.Strings(adjacency[id])
	}

	// Start from the smallest core node for determinism.
	var start string
	for id := range core {
		if start == "" || id < start {
			start = id
		}
	}
	if start == "" {
		return nil
	}

	// Follow first-edges until a repeat; every walk inside the remaining
	// set must eventually close a cycle.
	visitedAt := map[string]int{}
	var path []string
	current := start
	for {
		if pos, seen := visitedAt[current]; seen {
			cycleNodes := path[pos:]
			edges := make([]plan.Edge, 0, len(cycleNodes))
			for i, id := range cycleNodes {
				next := cycleNodes[(i+1)%len(cycleNodes)]
				if e, ok := g.DirectedEdge(id, next); ok {
					edges = append(edges, e)
				}
			}
			return edges
		}
		next := adjacency[current]
		if len(next) == 0 {
			return nil
		}
		visitedAt[current] = len(path)
		path = append(path, current)
		current = next[0]
	}
}

// pickVictim selects the cycle edge to remove: lowest confidence first,
// then the edge whose target has the larger in-degree (removing it reduces
// more graph complexity), then edge key order.
func pickVictim(g *Graph, cycle []plan.Edge) plan.Edge {
	victim := cycle[0]
	for _, e := range cycle[1:] {
		if e.Confidence < victim.Confidence {
			victim = e
			continue
		}
		if e.Confidence > victim.Confidence {
			continue
		}
		eIn, vIn := g.InDegree(e.Target), g.InDegree(victim.Target)
		if eIn > vIn {
			victim = e
			continue
		}
		if eIn < vIn {
			continue
		}
		if e.Source+"\x00"+e.Target < victim.Source+"\x00"+victim.Target {
			victim = e
		}
	}
	return victim
}
