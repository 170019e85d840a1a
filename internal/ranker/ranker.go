// Package ranker implements incremental re-ranking of a baseline plan in
// response to reflection changes, without invoking the generative planner.
//
// Adjustment is a pure transformation: fold reflection effects into
// per-task score deltas, stable-sort the unlocked tasks by delta, and
// re-interleave them around the locked tasks so every locked task keeps
// its exact original index. The operation is idempotent.
package ranker

import (
	"sort"

	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// Adjustment is the outcome of one incremental re-rank.
type Adjustment struct {
	Plan *plan.OrderedPlan
	// Moved counts tasks whose index changed from the baseline.
	Moved int
	// StaleLocks are locked ids absent from the baseline; they are
	// skipped and reported, the rest of the adjustment proceeds.
	StaleLocks []plan.StaleReferenceError
}

// taskScore carries the folded delta for one task.
type taskScore struct {
	id      string
	delta   float64
	blocked bool
	origIdx int
}

// Adjust produces a new ordering from the baseline, the active reflection
// effects, and the caller-owned lock set. Blocked tasks sink below every
// non-blocked task regardless of magnitude; boosts and demotions shift by
// their magnitude. Ties keep baseline order (stable sort), which makes
// repeated adjustment with identical inputs a no-op.
func Adjust(baseline *plan.OrderedPlan, effects []plan.ReflectionEffect, locks plan.LockSet) (*Adjustment, error) {
	timer := logging.StartTimer(logging.CategoryRanker, "Adjust")
	defer timer.Stop()

	if baseline == nil {
		return nil, &plan.StructuralError{Op: "Adjust", Detail: "nil baseline plan"}
	}
	if err := checkSequence(baseline); err != nil {
		return nil, err
	}

	adjustment := &Adjustment{}

	// Locked ids that no longer exist are stale references: skipped and
	// reported per-item, never fatal.
	inPlan := make(map[string]bool, len(baseline.Sequence))
	for _, id := range baseline.Sequence {
		inPlan[id] = true
	}
	activeLocks := make(plan.LockSet, len(locks))
	for _, id := range locks.IDs() {
		if inPlan[id] {
			activeLocks[id] = struct{}{}
		} else {
			adjustment.StaleLocks = append(adjustment.StaleLocks,
				plan.StaleReferenceError{Kind: "lock", TaskID: id})
		}
	}

	// Fold effects into one delta per task. Multiple effects on the same
	// task accumulate; any blocked effect marks the task blocked.
	deltas := make(map[string]float64)
	blocked := make(map[string]bool)
	for _, e := range effects {
		switch e.Effect {
		case plan.EffectBoosted:
			deltas[e.TaskID] += e.Magnitude
		case plan.EffectDemoted:
			deltas[e.TaskID] -= e.Magnitude
		case plan.EffectBlocked:
			blocked[e.TaskID] = true
			deltas[e.TaskID] -= e.Magnitude
		}
	}

	// Partition: locked tasks freeze in place, unlocked tasks re-sort.
	var unlocked []taskScore
	for i, id := range baseline.Sequence {
		if activeLocks.Has(id) {
			continue
		}
		unlocked = append(unlocked, taskScore{
			id:      id,
			delta:   deltas[id],
			blocked: blocked[id],
			origIdx: i,
		})
	}

	// Stable by construction: equal keys keep ascending origIdx.
	sort.SliceStable(unlocked, func(i, j int) bool {
		a, b := unlocked[i], unlocked[j]
		if a.blocked != b.blocked {
			return !a.blocked // Non-blocked tasks always rank first
		}
		if a.delta != b.delta {
			return a.delta > b.delta
		}
		return a.origIdx < b.origIdx
	})

	// Re-interleave: walk the original positions; locked occupants stay,
	// every other position takes the next task from the sorted list.
	out := baseline.Clone()
	next := 0
	for i, id := range baseline.Sequence {
		if activeLocks.Has(id) {
			out.Sequence[i] = id
			continue
		}
		out.Sequence[i] = unlocked[next].id
		next++
	}

	for i := range out.Sequence {
		if out.Sequence[i] != baseline.Sequence[i] {
			adjustment.Moved++
		}
	}
	if adjustment.Moved > 0 {
		out.Revision++
	}
	adjustment.Plan = out

	logging.RankerDebug("Adjust: %d effects, %d locked, %d moved",
		len(effects), len(activeLocks), adjustment.Moved)
	return adjustment, nil
}

// checkSequence rejects structurally malformed baselines outright.
func checkSequence(p *plan.OrderedPlan) error {
	seen := make(map[string]bool, len(p.Sequence))
	for _, id := range p.Sequence {
		if id == "" {
			return &plan.StructuralError{Op: "Adjust", Detail: "empty task id in sequence"}
		}
		if seen[id] {
			return &plan.StructuralError{Op: "Adjust", TaskID: id, Detail: "duplicate task id in sequence"}
		}
		seen[id] = true
	}
	return nil
}
