// Package validator implements the evaluator-optimizer loop that gates
// every generative planner output before it becomes an ordering.
//
// Each response moves through a fixed pipeline: schema check against the
// known task set, then semantic checks against the active directives. A
// failing response triggers a repair request carrying the concrete
// problems; repairs are capped, and when the cap is reached the best
// candidate seen is surfaced as needs-review rather than silently
// accepted or dropped.
package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskloom/internal/config"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
	"taskloom/internal/planner"
)

// Stage is a checkpoint in the validation pipeline.
type Stage string

const (
	StageReceived         Stage = "/received"
	StageSchemaChecked    Stage = "/schema_checked"
	StageSemanticsChecked Stage = "/semantics_checked"
	StageAccepted         Stage = "/accepted"
	StageRepairRequested  Stage = "/repair_requested"
)

// Verdict is the loop's final judgment on a planner output.
type Verdict string

const (
	VerdictAccepted    Verdict = "/accepted"
	VerdictNeedsReview Verdict = "/needs_review"
	VerdictRejected    Verdict = "/rejected"
)

// Problem is one concrete defect found in a planner response.
type Problem struct {
	Stage  Stage  `json:"stage"`
	Code   string `json:"code"`
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail"`
}

// Iteration records one pass through the pipeline, kept for reporting.
type Iteration struct {
	Attempt  int       `json:"attempt"`
	Stage    Stage     `json:"stage"` // Furthest stage reached
	Problems []Problem `json:"problems,omitempty"`
}

// Result is the outcome of a full validation run.
type Result struct {
	Plan       *plan.OrderedPlan `json:"plan,omitempty"`
	Verdict    Verdict           `json:"verdict"`
	Iterations []Iteration       `json:"iterations"`
	// Problems are the defects still standing in the returned plan; empty
	// for an accepted verdict.
	Problems []Problem `json:"problems,omitempty"`
}

// Request is everything one validation run needs: the generation prompt,
// the authoritative task set, and the directives in force.
type Request struct {
	PlanID     string
	Prompt     string
	Tasks      map[string]plan.Task
	Directives []plan.Directive
}

// Validator drives the loop against a planner client.
type Validator struct {
	client planner.Client
	config config.ValidatorConfig
}

// New creates a validator.
func New(client planner.Client, cfg config.ValidatorConfig) *Validator {
	return &Validator{client: client, config: cfg}
}

// candidate pairs a parsed plan with its standing problems, so the
// fallback can pick the least-defective one.
type candidate struct {
	plan     *plan.OrderedPlan
	problems []Problem
}

// ValidatePlan runs the loop: generate, check, repair, up to the
// configured cap. An accepted plan returns with VerdictAccepted. When
// repairs are exhausted, the best schema-valid candidate returns with
// VerdictNeedsReview and ErrValidationExhausted; with no schema-valid
// candidate at all the run is rejected.
func (v *Validator) ValidatePlan(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryValidator, "ValidatePlan")
	defer timer.Stop()
	start := time.Now()

	maxRepairs := v.config.MaxRepairs
	if maxRepairs <= 0 {
		maxRepairs = 2
	}

	result := &Result{}
	var best *candidate
	prompt := req.Prompt

	for attempt := 0; attempt <= maxRepairs; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, v.config.CallTimeoutDuration())
		raw, err := v.client.Complete(callCtx, prompt)
		cancel()
		if err != nil {
			logging.Get(logging.CategoryValidator).Error("Planner call failed on attempt %d: %v", attempt, err)
			return nil, fmt.Errorf("failed to obtain planner output: %w", err)
		}

		iteration := Iteration{Attempt: attempt, Stage: StageReceived}

		parsed, problems := checkSchema(raw, req.Tasks)
		iteration.Stage = StageSchemaChecked

		if parsed != nil && len(problems) == 0 {
			problems = checkSemantics(parsed, req.Directives)
			iteration.Stage = StageSemanticsChecked
		}

		if len(problems) == 0 {
			iteration.Stage = StageAccepted
			result.Iterations = append(result.Iterations, iteration)
			result.Verdict = VerdictAccepted
			result.Plan = finalize(parsed, req.PlanID)
			logging.Audit().PlanValidated(req.PlanID, string(VerdictAccepted), len(result.Iterations), time.Since(start).Milliseconds())
			logging.Validator("Plan %s accepted after %d iteration(s)", req.PlanID, len(result.Iterations))
			return result, nil
		}

		iteration.Problems = problems
		if parsed != nil {
			if best == nil || len(problems) < len(best.problems) {
				best = &candidate{plan: parsed, problems: problems}
			}
		}

		if attempt < maxRepairs {
			iteration.Stage = StageRepairRequested
			prompt = repairPrompt(req.Prompt, problems)
			logging.Audit().RepairRequested(req.PlanID, attempt+1, string(iteration.Stage), len(problems))
			logging.ValidatorDebug("Repair %d requested for plan %s: %d problems", attempt+1, req.PlanID, len(problems))
		}
		result.Iterations = append(result.Iterations, iteration)
	}

	if best == nil {
		result.Verdict = VerdictRejected
		logging.Audit().PlanValidated(req.PlanID, string(VerdictRejected), len(result.Iterations), time.Since(start).Milliseconds())
		return result, fmt.Errorf("no parseable planner output after %d attempts: %w", maxRepairs+1, plan.ErrValidationExhausted)
	}

	result.Verdict = VerdictNeedsReview
	result.Plan = finalize(best.plan, req.PlanID)
	result.Problems = best.problems
	logging.Audit().PlanValidated(req.PlanID, string(VerdictNeedsReview), len(result.Iterations), time.Since(start).Milliseconds())
	logging.Get(logging.CategoryValidator).Warn("Plan %s needs review: %d unresolved problems", req.PlanID, len(best.problems))
	return result, plan.ErrValidationExhausted
}

// finalize stamps identity and bookkeeping onto an accepted candidate.
func finalize(p *plan.OrderedPlan, planID string) *plan.OrderedPlan {
	out := p.Clone()
	out.ID = planID
	out.CreatedAt = time.Now()
	return out
}

// repairPrompt rebuilds the generation prompt with the concrete defects
// appended, so the planner corrects rather than regenerates blind.
func repairPrompt(original string, problems []Problem) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nYour previous response had the following problems. Fix them and respond again with the same JSON shape:\n")
	for _, p := range problems {
		if p.TaskID != "" {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", p.Code, p.TaskID, p.Detail)
		} else {
			fmt.Fprintf(&b, "- [%s] %s\n", p.Code, p.Detail)
		}
	}
	return b.String()
}
