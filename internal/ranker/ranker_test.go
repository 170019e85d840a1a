package ranker

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"taskloom/internal/plan"
)

func baselineOf(ids ...string) *plan.OrderedPlan {
	return &plan.OrderedPlan{ID: "p1", Sequence: ids, Revision: 1}
}

func TestAdjustBoostAndDemote(t *testing.T) {
	baseline := baselineOf("a", "b", "c", "d")
	effects := []plan.ReflectionEffect{
		{ReflectionID: "r1", TaskID: "c", Effect: plan.EffectBoosted, Magnitude: 2},
		{ReflectionID: "r2", TaskID: "a", Effect: plan.EffectDemoted, Magnitude: 1},
	}

	adj, err := Adjust(baseline, effects, nil)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	want := []string{"c", "b", "d", "a"}
	if diff := cmp.Diff(want, adj.Plan.Sequence); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}
	if adj.Plan.Revision != 2 {
		t.Errorf("revision = %d, want 2", adj.Plan.Revision)
	}
	if adj.Moved == 0 {
		t.Error("moved = 0, want > 0")
	}
}

func TestAdjustBlockedSinksBelowAll(t *testing.T) {
	baseline := baselineOf("a", "b", "c")
	effects := []plan.ReflectionEffect{
		// Even with a huge boost, a blocked task ranks below every
		// non-blocked one.
		{ReflectionID: "r1", TaskID: "a", Effect: plan.EffectBoosted, Magnitude: 100},
		{ReflectionID: "r2", TaskID: "a", Effect: plan.EffectBlocked, Magnitude: 1},
	}

	adj, err := Adjust(baseline, effects, nil)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if got := adj.Plan.Sequence[len(adj.Plan.Sequence)-1]; got != "a" {
		t.Errorf("last = %s, want blocked task a", got)
	}
}

func TestAdjustLockedPositionsExact(t *testing.T) {
	baseline := baselineOf("a", "b", "c", "d", "e")
	effects := []plan.ReflectionEffect{
		{ReflectionID: "r1", TaskID: "e", Effect: plan.EffectBoosted, Magnitude: 5},
		{ReflectionID: "r2", TaskID: "a", Effect: plan.EffectDemoted, Magnitude: 5},
	}
	locks := plan.NewLockSet("b", "d")

	adj, err := Adjust(baseline, effects, locks)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}

	if adj.Plan.Sequence[1] != "b" {
		t.Errorf("position 1 = %s, want locked b", adj.Plan.Sequence[1])
	}
	if adj.Plan.Sequence[3] != "d" {
		t.Errorf("position 3 = %s, want locked d", adj.Plan.Sequence[3])
	}
	// Unlocked tasks re-rank around the locks: e boosted to the front,
	// a demoted to the back.
	want := []string{"e", "b", "c", "d", "a"}
	if diff := cmp.Diff(want, adj.Plan.Sequence); diff != "" {
		t.Errorf("sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestAdjustIdempotent(t *testing.T) {
	baseline := baselineOf("a", "b", "c", "d")
	effects := []plan.ReflectionEffect{
		{ReflectionID: "r1", TaskID: "d", Effect: plan.EffectBoosted, Magnitude: 1},
		{ReflectionID: "r2", TaskID: "b", Effect: plan.EffectBlocked, Magnitude: 1},
	}

	first, err := Adjust(baseline, effects, nil)
	if err != nil {
		t.Fatalf("first Adjust: %v", err)
	}
	second, err := Adjust(first.Plan, effects, nil)
	if err != nil {
		t.Fatalf("second Adjust: %v", err)
	}

	if diff := cmp.Diff(first.Plan.Sequence, second.Plan.Sequence); diff != "" {
		t.Errorf("second adjustment changed the order (-first +second):\n%s", diff)
	}
	if second.Moved != 0 {
		t.Errorf("second adjustment moved %d tasks, want 0", second.Moved)
	}
	if second.Plan.Revision != first.Plan.Revision {
		t.Errorf("revision bumped on a no-op adjustment")
	}
}

func TestAdjustNoEffectsIsNoOp(t *testing.T) {
	baseline := baselineOf("a", "b", "c")

	adj, err := Adjust(baseline, nil, nil)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if diff := cmp.Diff(baseline.Sequence, adj.Plan.Sequence); diff != "" {
		t.Errorf("sequence changed with no effects (-want +got):\n%s", diff)
	}
	if adj.Moved != 0 {
		t.Errorf("moved = %d, want 0", adj.Moved)
	}
}

func TestAdjustStaleLocksReported(t *testing.T) {
	baseline := baselineOf("a", "b")
	locks := plan.NewLockSet("a", "ghost")

	adj, err := Adjust(baseline, nil, locks)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if len(adj.StaleLocks) != 1 {
		t.Fatalf("stale locks = %d, want 1", len(adj.StaleLocks))
	}
	if adj.StaleLocks[0].TaskID != "ghost" {
		t.Errorf("stale lock id = %s, want ghost", adj.StaleLocks[0].TaskID)
	}
}

func TestAdjustEffectsOnUnknownTasksIgnored(t *testing.T) {
	baseline := baselineOf("a", "b")
	effects := []plan.ReflectionEffect{
		{ReflectionID: "r1", TaskID: "ghost", Effect: plan.EffectBoosted, Magnitude: 10},
	}

	adj, err := Adjust(baseline, effects, nil)
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if adj.Moved != 0 {
		t.Errorf("moved = %d, want 0: effect targets a task outside the plan", adj.Moved)
	}
}

func TestAdjustRejectsMalformedBaseline(t *testing.T) {
	tests := []struct {
		name     string
		baseline *plan.OrderedPlan
	}{
		{"nil plan", nil},
		{"duplicate id", baselineOf("a", "b", "a")},
		{"empty id", baselineOf("a", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Adjust(tt.baseline, nil, nil)
			var structural *plan.StructuralError
			if !errors.As(err, &structural) {
				t.Errorf("err = %v, want StructuralError", err)
			}
		})
	}
}
