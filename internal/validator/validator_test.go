package validator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"taskloom/internal/config"
	"taskloom/internal/plan"
)

// mockClient replays canned responses in order, recording prompts.
type mockClient struct {
	responses []string
	err       error
	prompts   []string
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	i := len(m.prompts) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

func testTasks(ids ...string) map[string]plan.Task {
	tasks := make(map[string]plan.Task, len(ids))
	for _, id := range ids {
		tasks[id] = plan.Task{ID: id, Text: "task " + id, Status: plan.TaskActive}
	}
	return tasks
}

func TestValidatePlanAcceptsCleanResponse(t *testing.T) {
	client := &mockClient{responses: []string{
		"```json\n{\"sequence\": [\"a\", \"b\", \"c\"]}\n```",
	}}
	v := New(client, config.DefaultValidatorConfig())

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a", "b", "c"),
	})
	if err != nil {
		t.Fatalf("ValidatePlan: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Errorf("verdict = %s, want /accepted", result.Verdict)
	}
	if len(result.Iterations) != 1 {
		t.Errorf("iterations = %d, want 1", len(result.Iterations))
	}
	if result.Plan.ID != "p1" {
		t.Errorf("plan id = %s, want p1", result.Plan.ID)
	}
	if len(result.Plan.Sequence) != 3 {
		t.Errorf("sequence = %v, want 3 tasks", result.Plan.Sequence)
	}
}

func TestValidatePlanRepairsSchemaDefect(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"sequence": ["a", "ghost"]}`,
		`{"sequence": ["a", "b"]}`,
	}}
	v := New(client, config.DefaultValidatorConfig())

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a", "b"),
	})
	if err != nil {
		t.Fatalf("ValidatePlan: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Errorf("verdict = %s, want /accepted", result.Verdict)
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("iterations = %d, want 2", len(result.Iterations))
	}
	if result.Iterations[0].Stage != StageRepairRequested {
		t.Errorf("first iteration stage = %s, want /repair_requested", result.Iterations[0].Stage)
	}

	// The repair prompt must carry the concrete defect.
	if len(client.prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "ghost") {
		t.Errorf("repair prompt does not name the offending id:\n%s", client.prompts[1])
	}
}

func TestValidatePlanNegationDirectiveEnforced(t *testing.T) {
	// First response ranks an excluded task; second moves it to the
	// excluded set.
	client := &mockClient{responses: []string{
		`{"sequence": ["a", "b", "x"]}`,
		`{"sequence": ["a", "b"], "excluded": [{"task_id": "x", "reason": "user said ignore x"}]}`,
	}}
	v := New(client, config.DefaultValidatorConfig())

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a", "b", "x"),
		Directives: []plan.Directive{
			{ReflectionID: "r1", Kind: plan.DirectiveNegation, TargetTasks: []string{"x"}},
		},
	})
	if err != nil {
		t.Fatalf("ValidatePlan: %v", err)
	}
	if result.Verdict != VerdictAccepted {
		t.Errorf("verdict = %s, want /accepted", result.Verdict)
	}
	if result.Plan.Contains("x") {
		t.Error("excluded task x still in sequence")
	}
	if !result.Plan.IsExcluded("x") {
		t.Error("task x missing from excluded set")
	}
}

func TestValidatePlanEmphasisDirectiveEnforced(t *testing.T) {
	// Task d is emphasized but buried at the bottom; no repair fixes it,
	// so the run exhausts into needs-review.
	client := &mockClient{responses: []string{
		`{"sequence": ["a", "b", "c", "d"]}`,
	}}
	v := New(client, config.DefaultValidatorConfig())

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a", "b", "c", "d"),
		Directives: []plan.Directive{
			{ReflectionID: "r1", Kind: plan.DirectivePositive, TargetTasks: []string{"d"}},
		},
	})
	if !errors.Is(err, plan.ErrValidationExhausted) {
		t.Fatalf("err = %v, want ErrValidationExhausted", err)
	}
	if result.Verdict != VerdictNeedsReview {
		t.Errorf("verdict = %s, want /needs_review", result.Verdict)
	}
	if result.Plan == nil {
		t.Fatal("best candidate not surfaced")
	}
	if len(result.Problems) == 0 {
		t.Error("unresolved problems not reported")
	}
}

func TestValidatePlanExhaustionCap(t *testing.T) {
	client := &mockClient{responses: []string{`{"sequence": ["ghost"]}`}}
	cfg := config.DefaultValidatorConfig()
	cfg.MaxRepairs = 2
	v := New(client, cfg)

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a"),
	})
	if !errors.Is(err, plan.ErrValidationExhausted) {
		t.Fatalf("err = %v, want ErrValidationExhausted", err)
	}
	if result.Verdict != VerdictNeedsReview {
		t.Errorf("verdict = %s, want /needs_review", result.Verdict)
	}
	// Initial attempt plus two repairs, never more.
	if len(client.prompts) != 3 {
		t.Errorf("planner called %d times, want 3", len(client.prompts))
	}
	if len(result.Iterations) != 3 {
		t.Errorf("iterations = %d, want 3", len(result.Iterations))
	}
}

func TestValidatePlanUnparseableRejected(t *testing.T) {
	client := &mockClient{responses: []string{"I think the order should be a, then b."}}
	v := New(client, config.DefaultValidatorConfig())

	result, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a", "b"),
	})
	if !errors.Is(err, plan.ErrValidationExhausted) {
		t.Fatalf("err = %v, want ErrValidationExhausted", err)
	}
	if result.Verdict != VerdictRejected {
		t.Errorf("verdict = %s, want /rejected", result.Verdict)
	}
	if result.Plan != nil {
		t.Error("rejected run must not surface a plan")
	}
}

func TestValidatePlanSchemaChecks(t *testing.T) {
	tasks := testTasks("a", "b")
	tasks["gone"] = plan.Task{ID: "gone", Status: plan.TaskDiscarded}

	tests := []struct {
		name     string
		raw      string
		wantCode string
	}{
		{"duplicate id", `{"sequence": ["a", "a"]}`, "duplicate_id"},
		{"unknown id", `{"sequence": ["a", "nope"]}`, "unknown_id"},
		{"unrankable status", `{"sequence": ["a", "gone"]}`, "unrankable_status"},
		{"empty sequence", `{"sequence": []}`, "empty_sequence"},
		{"excluded in sequence", `{"sequence": ["a", "b"], "excluded": [{"task_id": "b"}]}`, "excluded_in_sequence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, problems := checkSchema(tt.raw, tasks)
			found := false
			for _, p := range problems {
				if p.Code == tt.wantCode {
					found = true
				}
			}
			if !found {
				t.Errorf("problems = %v, want code %s", problems, tt.wantCode)
			}
		})
	}
}

func TestValidatePlanPlannerFailureIsFatal(t *testing.T) {
	client := &mockClient{err: errors.New("connection refused")}
	v := New(client, config.DefaultValidatorConfig())

	_, err := v.ValidatePlan(context.Background(), Request{
		PlanID: "p1",
		Prompt: "order the tasks",
		Tasks:  testTasks("a"),
	})
	if err == nil {
		t.Fatal("err = nil, want planner failure")
	}
}
