package gaps

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskloom/internal/graph"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// bridgeEdgeConfidence is the weight assigned to the two prerequisite
// edges created for an accepted bridging task. High but not 1.0, so a
// stronger pre-existing relationship survives a tie-break against it.
const bridgeEdgeConfidence = 0.9

// Insertion is one accepted bridging task with its anchor pair. The task
// may carry user edits to text and effort.
type Insertion struct {
	Bridge      plan.Task `json:"bridge"`
	Predecessor string    `json:"predecessor"`
	Successor   string    `json:"successor"`
}

// SkippedInsertion reports a bridging task that could not be applied
// because an anchor vanished from the ordering (stale reference).
type SkippedInsertion struct {
	Bridge plan.Task                 `json:"bridge"`
	Err    *plan.StaleReferenceError `json:"-"`
	Reason string                    `json:"reason"`
}

// InsertResult is the outcome of a bridging batch: new plan and graph
// snapshots, the cycle resolutions the new edges forced, and the
// insertions skipped for stale anchors.
type InsertResult struct {
	Plan      *plan.OrderedPlan
	Graph     *graph.Graph
	Conflicts []graph.ResolvedConflict
	Skipped   []SkippedInsertion
}

// InsertBridgingTasks applies accepted bridging tasks one at a time, in
// the order submitted. For each: the task node is created, the two anchor
// edges go through cycle resolution, the task is spliced between its
// anchors, and the affected window is re-linearized topologically while
// every untouched task keeps its relative order.
//
// A stale anchor skips that insertion and reports it; the rest of the
// batch proceeds.
func InsertBridgingTasks(p *plan.OrderedPlan, g *graph.Graph, insertions []Insertion) (*InsertResult, error) {
	timer := logging.StartTimer(logging.CategoryGaps, "InsertBridgingTasks")
	defer timer.Stop()

	if p == nil {
		return nil, &plan.StructuralError{Op: "InsertBridgingTasks", Detail: "nil plan"}
	}

	workPlan := p.Clone()
	workGraph := g.Clone()
	result := &InsertResult{}
	applied := 0

	for _, ins := range insertions {
		if stale, id := staleAnchor(workPlan, workGraph, ins); stale {
			err := &plan.StaleReferenceError{Kind: "anchor", TaskID: id}
			result.Skipped = append(result.Skipped, SkippedInsertion{
				Bridge: ins.Bridge,
				Err:    err,
				Reason: err.Error(),
			})
			logging.Audit().BridgeSkipped(ins.Bridge.ID, id)
			logging.Get(logging.CategoryGaps).Warn("Bridging skipped: %v", err)
			continue
		}

		bridge := normalizeBridge(ins)
		if err := workGraph.AddTask(bridge); err != nil {
			return nil, err
		}

		proposal, err := graph.ProposeEdges(workGraph, []plan.Edge{
			{Source: ins.Predecessor, Target: bridge.ID, Type: plan.EdgePrerequisite, Confidence: bridgeEdgeConfidence},
			{Source: bridge.ID, Target: ins.Successor, Type: plan.EdgePrerequisite, Confidence: bridgeEdgeConfidence},
		})
		if err != nil {
			// Structural/cycle faults abort the whole batch, fail closed.
			return nil, fmt.Errorf("failed to propose bridge edges for %s: %w", bridge.ID, err)
		}
		workGraph = proposal.Graph
		result.Conflicts = append(result.Conflicts, proposal.Conflicts...)

		splice(workPlan, bridge.ID, ins.Predecessor, ins.Successor)
		relinearizeWindow(workPlan, workGraph, ins.Predecessor, ins.Successor)

		if workPlan.Confidence == nil {
			workPlan.Confidence = make(map[string]float64)
		}
		workPlan.Confidence[bridge.ID] = bridgeEdgeConfidence

		applied++
		logging.Audit().BridgeInserted(bridge.ID, ins.Predecessor, ins.Successor, len(proposal.Conflicts))
		logging.Gaps("Bridging task %s inserted between %s and %s", bridge.ID, ins.Predecessor, ins.Successor)
	}

	if applied > 0 {
		workPlan.Revision++
	}
	result.Plan = workPlan
	result.Graph = workGraph
	return result, nil
}

// staleAnchor reports whether either anchor has vanished from the current
// ordering or been discarded concurrently, and which one.
func staleAnchor(p *plan.OrderedPlan, g *graph.Graph, ins Insertion) (bool, string) {
	for _, id := range []string{ins.Predecessor, ins.Successor} {
		if !p.Contains(id) {
			return true, id
		}
		if t, ok := g.Task(id); ok && t.Status == plan.TaskDiscarded {
			return true, id
		}
	}
	return false, ""
}

// normalizeBridge fills defaults for an accepted bridging task: id,
// status, effort floor, provenance, timestamps.
func normalizeBridge(ins Insertion) plan.Task {
	bridge := ins.Bridge
	if bridge.ID == "" {
		bridge.ID = fmt.Sprintf("/task_bridge_%s", uuid.NewString()[:8])
	}
	if bridge.Status == "" {
		bridge.Status = plan.TaskActive
	}
	if bridge.EffortHours <= 0 {
		bridge.EffortHours = 1
	}
	if bridge.CreatedAt.IsZero() {
		bridge.CreatedAt = time.Now()
	}
	bridge.BridgedFrom = ins.Predecessor
	bridge.BridgedTo = ins.Successor
	return bridge
}

// splice inserts the bridge id immediately between its anchors: directly
// before the successor when the anchors are in order, directly after the
// predecessor otherwise. Repeated insertions at the same pair land in
// submission order.
func splice(p *plan.OrderedPlan, bridgeID, predecessor, successor string) {
	predIdx := p.IndexOf(predecessor)
	succIdx := p.IndexOf(successor)

	at := succIdx
	if succIdx < predIdx {
		at = predIdx + 1
	}

	p.Sequence = append(p.Sequence, "")
	copy(p.Sequence[at+1:], p.Sequence[at:])
	p.Sequence[at] = bridgeID
}

// relinearizeWindow re-orders only the contiguous window spanning the two
// anchors (bridge included) with a stable topological pass, absorbing any
// edge removals from resolution. Ties keep current window order, tasks
// outside the window never move.
func relinearizeWindow(p *plan.OrderedPlan, g *graph.Graph, predecessor, successor string) {
	lo := p.IndexOf(predecessor)
	hi := p.IndexOf(successor)
	if lo < 0 || hi < 0 {
		return
	}
	if hi < lo {
		lo, hi = hi, lo
	}

	window := append([]string(nil), p.Sequence[lo:hi+1]...)
	ordered := stableTopo(window, g)
	copy(p.Sequence[lo:], ordered)
}

// stableTopo runs Kahn's algorithm over the directed edges among the
// window members, always taking the ready task that appears earliest in
// the current window order. Cycles cannot occur here: the resolver already
// guaranteed acyclicity, so every pass drains fully.
func stableTopo(window []string, g *graph.Graph) []string {
	pos := make(map[string]int, len(window))
	for i, id := range window {
		pos[id] = i
	}

	inDegree := make(map[string]int, len(window))
	adjacency := make(map[string][]string, len(window))
	for _, e := range g.DirectedEdges() {
		if _, inA := pos[e.Source]; !inA {
			continue
		}
		if _, inB := pos[e.Target]; !inB {
			continue
		}
		inDegree[e.Target]++
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	ordered := make([]string, 0, len(window))
	remaining := len(window)
	done := make(map[string]bool, len(window))

	for remaining > 0 {
		next := ""
		for _, id := range window {
			if !done[id] && inDegree[id] == 0 {
				next = id
				break
			}
		}
		if next == "" {
			// Unreachable once resolution has run; keep the remaining
			// tasks in current order rather than dropping them.
			for _, id := range window {
				if !done[id] {
					ordered = append(ordered, id)
				}
			}
			return ordered
		}

		done[next] = true
		remaining--
		ordered = append(ordered, next)
		for _, t := range adjacency[next] {
			inDegree[t]--
		}
	}
	return ordered
}
