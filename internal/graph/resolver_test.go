package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"taskloom/internal/plan"
)

func testGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		if err := g.AddTask(plan.Task{ID: id, Text: "task " + id, Status: plan.TaskActive}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	return g
}

func TestProposeEdgesAcceptsAcyclic(t *testing.T) {
	g := testGraph(t, "a", "b", "c")

	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.8},
		{Source: "b", Target: "c", Type: plan.EdgePrerequisite, Confidence: 0.7},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}
	if len(result.Accepted) != 2 {
		t.Errorf("accepted = %d, want 2", len(result.Accepted))
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0", len(result.Conflicts))
	}
	if len(result.Graph.Edges()) != 2 {
		t.Errorf("graph edges = %d, want 2", len(result.Graph.Edges()))
	}
}

func TestProposeEdgesLeavesInputGraphUntouched(t *testing.T) {
	g := testGraph(t, "a", "b")

	_, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}
	if len(g.Edges()) != 0 {
		t.Errorf("input graph gained %d edges, want 0", len(g.Edges()))
	}
}

func TestProposeEdgesBreaksCycleAtLowestConfidence(t *testing.T) {
	// x->y (0.9), y->z (0.5), z->x (0.9): the cycle must be broken by
	// removing y->z, keeping both high-confidence edges.
	g := testGraph(t, "x", "y", "z")

	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "x", Target: "y", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "y", Target: "z", Type: plan.EdgePrerequisite, Confidence: 0.5},
		{Source: "z", Target: "x", Type: plan.EdgePrerequisite, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}

	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(result.Conflicts))
	}
	removed := result.Conflicts[0].Removed
	if removed.Source != "y" || removed.Target != "z" {
		t.Errorf("removed %s->%s, want y->z", removed.Source, removed.Target)
	}
	if len(result.Conflicts[0].Cycle) != 3 {
		t.Errorf("reported cycle has %d edges, want 3", len(result.Conflicts[0].Cycle))
	}

	if _, ok := result.Graph.DirectedEdge("x", "y"); !ok {
		t.Error("edge x->y missing after resolution")
	}
	if _, ok := result.Graph.DirectedEdge("z", "x"); !ok {
		t.Error("edge z->x missing after resolution")
	}
	if _, ok := result.Graph.DirectedEdge("y", "z"); ok {
		t.Error("edge y->z still present after resolution")
	}
}

func TestProposeEdgesDeterministicResolution(t *testing.T) {
	edges := []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.6},
		{Source: "b", Target: "c", Type: plan.EdgePrerequisite, Confidence: 0.6},
		{Source: "c", Target: "a", Type: plan.EdgePrerequisite, Confidence: 0.6},
	}

	var firstRemoved plan.Edge
	for i := 0; i < 10; i++ {
		g := testGraph(t, "a", "b", "c")
		result, err := ProposeEdges(g, edges)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(result.Conflicts) != 1 {
			t.Fatalf("run %d: conflicts = %d, want 1", i, len(result.Conflicts))
		}
		if i == 0 {
			firstRemoved = result.Conflicts[0].Removed
			continue
		}
		if result.Conflicts[0].Removed != firstRemoved {
			t.Fatalf("run %d removed %v, run 0 removed %v", i, result.Conflicts[0].Removed, firstRemoved)
		}
	}
}

func TestProposeEdgesRelatedEdgesNeverCycle(t *testing.T) {
	g := testGraph(t, "a", "b")

	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.8},
		{Source: "b", Target: "a", Type: plan.EdgeRelated, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0: related edges are symmetric", len(result.Conflicts))
	}
	if len(result.Accepted) != 2 {
		t.Errorf("accepted = %d, want 2", len(result.Accepted))
	}
}

func TestProposeEdgesStructuralRejection(t *testing.T) {
	tests := []struct {
		name string
		edge plan.Edge
	}{
		{"unknown source", plan.Edge{Source: "ghost", Target: "a", Type: plan.EdgePrerequisite, Confidence: 0.5}},
		{"unknown target", plan.Edge{Source: "a", Target: "ghost", Type: plan.EdgePrerequisite, Confidence: 0.5}},
		{"empty endpoint", plan.Edge{Source: "", Target: "a", Type: plan.EdgePrerequisite, Confidence: 0.5}},
		{"confidence too high", plan.Edge{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 1.5}},
		{"confidence negative", plan.Edge{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: -0.1}},
		{"unknown type", plan.Edge{Source: "a", Target: "b", Type: "/follows", Confidence: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGraph(t, "a", "b")
			// A valid edge in the same batch must not be applied either.
			_, err := ProposeEdges(g, []plan.Edge{
				{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.5},
				tt.edge,
			})
			var structural *plan.StructuralError
			if !errors.As(err, &structural) {
				t.Fatalf("err = %v, want StructuralError", err)
			}
			if len(g.Edges()) != 0 {
				t.Errorf("graph gained %d edges from a rejected batch", len(g.Edges()))
			}
		})
	}
}

func TestProposeEdgesTypeConflictMerge(t *testing.T) {
	g := testGraph(t, "a", "b")

	first, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.6},
	})
	if err != nil {
		t.Fatalf("first ProposeEdges: %v", err)
	}

	// Same slot, different type, higher confidence: the new edge wins and
	// the replacement is reported.
	second, err := ProposeEdges(first.Graph, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgeBlocks, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("second ProposeEdges: %v", err)
	}
	if len(second.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(second.Conflicts))
	}
	e, ok := second.Graph.DirectedEdge("a", "b")
	if !ok || e.Type != plan.EdgeBlocks {
		t.Errorf("edge a->b = %+v, want /blocks", e)
	}

	// Lower confidence challenger loses; existing edge stays.
	third, err := ProposeEdges(second.Graph, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.3},
	})
	if err != nil {
		t.Fatalf("third ProposeEdges: %v", err)
	}
	if len(third.Accepted) != 0 {
		t.Errorf("accepted = %d, want 0", len(third.Accepted))
	}
	e, _ = third.Graph.DirectedEdge("a", "b")
	if e.Type != plan.EdgeBlocks || e.Confidence != 0.9 {
		t.Errorf("edge a->b = %+v, want /blocks at 0.9", e)
	}
}

func TestProposeEdgesCycleThroughExistingEdges(t *testing.T) {
	g := testGraph(t, "a", "b", "c")

	first, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "b", Target: "c", Type: plan.EdgePrerequisite, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("first ProposeEdges: %v", err)
	}

	// The candidate closes a cycle through two pre-existing edges and is
	// itself the weakest link.
	second, err := ProposeEdges(first.Graph, []plan.Edge{
		{Source: "c", Target: "a", Type: plan.EdgePrerequisite, Confidence: 0.2},
	})
	if err != nil {
		t.Fatalf("second ProposeEdges: %v", err)
	}
	if len(second.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(second.Conflicts))
	}
	removed := second.Conflicts[0].Removed
	if removed.Source != "c" || removed.Target != "a" {
		t.Errorf("removed %s->%s, want c->a", removed.Source, removed.Target)
	}
	if len(second.Accepted) != 0 {
		t.Errorf("accepted = %d, want 0: candidate was the victim", len(second.Accepted))
	}
}

func TestProposeEdgesIndependentCyclesOneRemovalEach(t *testing.T) {
	// Three disjoint cycles in one batch: two 2-cycles plus a 3-cycle.
	// Resolution must remove exactly one edge per cycle, never more.
	g := testGraph(t, "a", "b", "c", "d", "e", "f", "h")

	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "b", Target: "a", Type: plan.EdgePrerequisite, Confidence: 0.4},
		{Source: "c", Target: "d", Type: plan.EdgePrerequisite, Confidence: 0.8},
		{Source: "d", Target: "c", Type: plan.EdgePrerequisite, Confidence: 0.3},
		{Source: "e", Target: "f", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "f", Target: "h", Type: plan.EdgePrerequisite, Confidence: 0.8},
		{Source: "h", Target: "e", Type: plan.EdgePrerequisite, Confidence: 0.2},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}

	if len(result.Conflicts) != 3 {
		t.Fatalf("conflicts = %d, want 3 (one per independent cycle)", len(result.Conflicts))
	}
	wantRemoved := map[string]bool{"b->a": true, "d->c": true, "h->e": true}
	for _, c := range result.Conflicts {
		key := c.Removed.Source + "->" + c.Removed.Target
		if !wantRemoved[key] {
			t.Errorf("removed %s, want one of b->a, d->c, h->e", key)
		}
		if len(c.Cycle) == 0 {
			t.Errorf("conflict %s reported without its cycle", key)
		}
	}
	if len(result.Accepted) != 4 {
		t.Errorf("accepted = %d, want 4", len(result.Accepted))
	}
	if left := kahnRemaining(result.Graph); len(left) != 0 {
		t.Errorf("graph still cyclic after resolution: %v", left)
	}
}

func TestProposeEdgesRandomBatchesStayAcyclic(t *testing.T) {
	// Seeded random batches, each seeded with a deliberate cycle of length
	// 2 to 5. Whatever the input, the resolved graph must come out acyclic.
	rng := rand.New(rand.NewSource(1))
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
	}

	for trial := 0; trial < 200; trial++ {
		g := testGraph(t, ids...)

		var batch []plan.Edge
		for i := 0; i < 10; i++ {
			src := rng.Intn(len(ids))
			dst := rng.Intn(len(ids))
			if src == dst {
				continue
			}
			batch = append(batch, plan.Edge{
				Source:     ids[src],
				Target:     ids[dst],
				Type:       plan.EdgePrerequisite,
				Confidence: rng.Float64(),
			})
		}

		cycleLen := 2 + rng.Intn(4)
		ring := rng.Perm(len(ids))[:cycleLen]
		for i := 0; i < cycleLen; i++ {
			batch = append(batch, plan.Edge{
				Source:     ids[ring[i]],
				Target:     ids[ring[(i+1)%cycleLen]],
				Type:       plan.EdgeBlocks,
				Confidence: rng.Float64(),
			})
		}

		result, err := ProposeEdges(g, batch)
		if err != nil {
			t.Fatalf("trial %d: ProposeEdges: %v", trial, err)
		}
		if left := kahnRemaining(result.Graph); len(left) != 0 {
			t.Fatalf("trial %d: graph still cyclic after resolution: %v", trial, left)
		}
	}
}

func TestProposeEdgesDuplicateCandidateAcceptedOnce(t *testing.T) {
	g := testGraph(t, "a", "b")

	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.8},
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}
	if len(result.Accepted) != 1 {
		t.Errorf("accepted = %d, want 1: duplicate candidates collapse", len(result.Accepted))
	}
	if len(result.Graph.Edges()) != 1 {
		t.Errorf("graph edges = %d, want 1", len(result.Graph.Edges()))
	}
}

func TestHasPathHopBound(t *testing.T) {
	g := testGraph(t, "a", "b", "c", "d")
	result, err := ProposeEdges(g, []plan.Edge{
		{Source: "a", Target: "b", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "b", Target: "c", Type: plan.EdgePrerequisite, Confidence: 0.9},
		{Source: "c", Target: "d", Type: plan.EdgePrerequisite, Confidence: 0.9},
	})
	if err != nil {
		t.Fatalf("ProposeEdges: %v", err)
	}

	if !result.Graph.HasPath("a", "d", 3) {
		t.Error("HasPath(a, d, 3) = false, want true")
	}
	if result.Graph.HasPath("a", "d", 2) {
		t.Error("HasPath(a, d, 2) = true, want false: path needs 3 hops")
	}
	if result.Graph.HasPath("d", "a", 5) {
		t.Error("HasPath(d, a, 5) = true, want false: edges are directed")
	}
}
