package validator

import (
	"encoding/json"
	"fmt"

	"taskloom/internal/plan"
	"taskloom/internal/planner"
)

// plannerOutput is the tagged JSON shape the planner must emit.
type plannerOutput struct {
	Sequence []string `json:"sequence"`
	Excluded []struct {
		TaskID string `json:"task_id"`
		Reason string `json:"reason"`
	} `json:"excluded,omitempty"`
}

// checkSchema parses a raw planner response and verifies its structure
// against the known task set. A nil candidate means the response was not
// even parseable; otherwise the candidate is returned alongside any
// problems so the repair loop can reference it.
func checkSchema(raw string, tasks map[string]plan.Task) (*plan.OrderedPlan, []Problem) {
	cleaned := planner.CleanJSONResponse(raw)

	var out plannerOutput
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, []Problem{{
			Stage:  StageSchemaChecked,
			Code:   "unparseable",
			Detail: fmt.Sprintf("response is not valid JSON: %v", err),
		}}
	}

	var problems []Problem
	if len(out.Sequence) == 0 {
		problems = append(problems, Problem{
			Stage:  StageSchemaChecked,
			Code:   "empty_sequence",
			Detail: "sequence must contain at least one task id",
		})
	}

	seen := make(map[string]bool, len(out.Sequence))
	for _, id := range out.Sequence {
		if seen[id] {
			problems = append(problems, Problem{
				Stage:  StageSchemaChecked,
				Code:   "duplicate_id",
				TaskID: id,
				Detail: "task id appears more than once in sequence",
			})
			continue
		}
		seen[id] = true

		t, known := tasks[id]
		if !known {
			problems = append(problems, Problem{
				Stage:  StageSchemaChecked,
				Code:   "unknown_id",
				TaskID: id,
				Detail: "sequence references a task id not in the graph",
			})
			continue
		}
		if !t.Status.Rankable() {
			problems = append(problems, Problem{
				Stage:  StageSchemaChecked,
				Code:   "unrankable_status",
				TaskID: id,
				Detail: fmt.Sprintf("task with status %s may not appear in a sequence", t.Status),
			})
		}
	}

	candidate := &plan.OrderedPlan{Sequence: out.Sequence}
	for _, ex := range out.Excluded {
		if _, known := tasks[ex.TaskID]; !known {
			problems = append(problems, Problem{
				Stage:  StageSchemaChecked,
				Code:   "unknown_id",
				TaskID: ex.TaskID,
				Detail: "excluded set references a task id not in the graph",
			})
			continue
		}
		if seen[ex.TaskID] {
			problems = append(problems, Problem{
				Stage:  StageSchemaChecked,
				Code:   "excluded_in_sequence",
				TaskID: ex.TaskID,
				Detail: "task appears in both sequence and excluded set",
			})
		}
		candidate.Excluded = append(candidate.Excluded, plan.Exclusion{
			TaskID: ex.TaskID,
			Reason: ex.Reason,
		})
	}

	return candidate, problems
}
