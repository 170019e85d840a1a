package validator

import (
	"fmt"

	"taskloom/internal/plan"
)

// checkSemantics verifies a schema-valid candidate against the active
// directives. Negation directives are hard constraints: every target must
// sit in the excluded set and nowhere in the sequence. Positive directives
// require their targets to be present, not excluded, and ranked in the top
// half of the ordering.
func checkSemantics(candidate *plan.OrderedPlan, directives []plan.Directive) []Problem {
	var problems []Problem
	midpoint := (len(candidate.Sequence) + 1) / 2

	for _, d := range directives {
		switch d.Kind {
		case plan.DirectiveNegation:
			for _, id := range d.TargetTasks {
				if candidate.Contains(id) {
					problems = append(problems, Problem{
						Stage:  StageSemanticsChecked,
						Code:   "negation_violated",
						TaskID: id,
						Detail: fmt.Sprintf("reflection %s excludes this task but it appears in the sequence", d.ReflectionID),
					})
					continue
				}
				if !candidate.IsExcluded(id) {
					problems = append(problems, Problem{
						Stage:  StageSemanticsChecked,
						Code:   "negation_unrecorded",
						TaskID: id,
						Detail: fmt.Sprintf("reflection %s excludes this task but the excluded set omits it", d.ReflectionID),
					})
				}
			}

		case plan.DirectivePositive:
			for _, id := range d.TargetTasks {
				if candidate.IsExcluded(id) {
					problems = append(problems, Problem{
						Stage:  StageSemanticsChecked,
						Code:   "emphasis_excluded",
						TaskID: id,
						Detail: fmt.Sprintf("reflection %s emphasizes this task but it was excluded", d.ReflectionID),
					})
					continue
				}
				idx := candidate.IndexOf(id)
				if idx < 0 {
					problems = append(problems, Problem{
						Stage:  StageSemanticsChecked,
						Code:   "emphasis_missing",
						TaskID: id,
						Detail: fmt.Sprintf("reflection %s emphasizes this task but it is absent from the sequence", d.ReflectionID),
					})
					continue
				}
				if idx >= midpoint {
					problems = append(problems, Problem{
						Stage:  StageSemanticsChecked,
						Code:   "emphasis_buried",
						TaskID: id,
						Detail: fmt.Sprintf("reflection %s emphasizes this task but it ranks at position %d of %d", d.ReflectionID, idx+1, len(candidate.Sequence)),
					})
				}
			}
		}
	}
	return problems
}
