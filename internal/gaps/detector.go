// Package gaps implements gap detection between consecutive ordered tasks
// and insertion of accepted bridging tasks.
//
// Detection is a pure scan over a plan snapshot: four independent
// indicators are evaluated per adjacent pair and a pair is flagged when at
// least one fires. Insertion splices accepted bridging tasks between their
// anchors, routes the new edges through cycle resolution, and re-linearizes
// only the affected window.
package gaps

import (
	"sort"

	"taskloom/internal/config"
	"taskloom/internal/graph"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// ActionCategory is the coarse category of a task, derived upstream from
// task text features. The core never classifies text itself.
type ActionCategory string

const (
	CategoryPlanning  ActionCategory = "/planning"
	CategoryExecution ActionCategory = "/execution"
	CategoryReview    ActionCategory = "/review"
	CategoryUnknown   ActionCategory = ""
)

// rank orders the categories along the usual plan -> execute -> review
// progression. Unknown categories never fire the action-type indicator.
func (c ActionCategory) rank() (int, bool) {
	switch c {
	case CategoryPlanning:
		return 0, true
	case CategoryExecution:
		return 1, true
	case CategoryReview:
		return 2, true
	default:
		return 0, false
	}
}

// TaskSignals carries the externally derived per-task features the
// detector consumes as opaque inputs.
type TaskSignals struct {
	Category ActionCategory `json:"category"`
	Terms    []string       `json:"terms,omitempty"` // Dominant topical terms
}

// Signals maps task id to its signals.
type Signals map[string]TaskSignals

// SimilarityFunc scores topical overlap between two term sets in [0,1].
type SimilarityFunc func(a, b []string) float64

// JaccardSimilarity is the default topical similarity: intersection over
// union of the two term sets.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	intersection := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			intersection++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Detector scans orderings for suspected missing steps.
type Detector struct {
	config     config.DetectorConfig
	similarity SimilarityFunc
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg config.DetectorConfig) *Detector {
	return &Detector{config: cfg, similarity: JaccardSimilarity}
}

// SetSimilarity overrides the topical similarity function, e.g. with one
// backed by externally supplied embedding scores.
func (d *Detector) SetSimilarity(fn SimilarityFunc) {
	if fn != nil {
		d.similarity = fn
	}
}

// DetectGaps evaluates the four indicators for every adjacent pair in the
// ordering. Output is sorted by severity descending, pairs of equal
// severity keeping plan order, so repeated calls over the same snapshot
// return identical results. The scan never mutates the graph.
func (d *Detector) DetectGaps(p *plan.OrderedPlan, g *graph.Graph, signals Signals) []plan.Gap {
	timer := logging.StartTimer(logging.CategoryGaps, "DetectGaps")
	defer timer.Stop()

	if p == nil || len(p.Sequence) < 2 {
		return nil
	}

	tasks := make(map[string]plan.Task, len(p.Sequence))
	for _, id := range p.Sequence {
		if t, ok := g.Task(id); ok {
			tasks[id] = t
		}
	}
	median := plan.MedianEffort(p, tasks)

	var gaps []plan.Gap
	for i := 0; i < len(p.Sequence)-1; i++ {
		predID, succID := p.Sequence[i], p.Sequence[i+1]
		pred, predOK := tasks[predID]
		succ, succOK := tasks[succID]
		if !predOK || !succOK {
			continue
		}

		var fired []plan.Indicator
		if d.timeIndicator(pred, succ, median) {
			fired = append(fired, plan.IndicatorTime)
		}
		if d.actionTypeIndicator(p.Sequence, i, signals) {
			fired = append(fired, plan.IndicatorActionType)
		}
		if d.skillIndicator(signals[predID], signals[succID]) {
			fired = append(fired, plan.IndicatorSkill)
		}
		if d.dependencyIndicator(pred, succ, g) {
			fired = append(fired, plan.IndicatorDependency)
		}

		if len(fired) > 0 {
			gaps = append(gaps, plan.Gap{
				Predecessor: predID,
				Successor:   succID,
				Indicators:  fired,
				Severity:    len(fired),
			})
		}
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Severity > gaps[j].Severity
	})

	logging.GapsDebug("DetectGaps: %d pairs scanned, %d gaps flagged", len(p.Sequence)-1, len(gaps))
	return gaps
}

// timeIndicator: the combined effort of the pair exceeds the configured
// multiple of the plan's per-task median, suggesting an unaccounted jump.
func (d *Detector) timeIndicator(pred, succ plan.Task, median int) bool {
	if median <= 0 {
		return false
	}
	combined := float64(pred.EffortHours + succ.EffortHours)
	return combined > d.config.TimeMultiple*float64(median)
}

// actionTypeIndicator: the pair's categories sit two or more steps apart
// on the planning->execution->review progression and no task inside the
// surrounding window carries an intermediate category.
func (d *Detector) actionTypeIndicator(sequence []string, pos int, signals Signals) bool {
	predRank, predOK := signals[sequence[pos]].Category.rank()
	succRank, succOK := signals[sequence[pos+1]].Category.rank()
	if !predOK || !succOK {
		return false
	}

	lo, hi := predRank, succRank
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi-lo < 2 {
		return false
	}

	start := pos - d.config.CategoryWindow
	if start < 0 {
		start = 0
	}
	end := pos + 1 + d.config.CategoryWindow
	if end > len(sequence)-1 {
		end = len(sequence) - 1
	}
	for i := start; i <= end; i++ {
		if i == pos || i == pos+1 {
			continue
		}
		if r, ok := signals[sequence[i]].Category.rank(); ok && r > lo && r < hi {
			return false
		}
	}
	return true
}

// skillIndicator: the two tasks' dominant topical terms share no overlap
// above the similarity floor. Fires only when both term sets are present;
// absent signals are treated as unassessable, not as gaps.
func (d *Detector) skillIndicator(pred, succ TaskSignals) bool {
	if len(pred.Terms) == 0 || len(succ.Terms) == 0 {
		return false
	}
	return d.similarity(pred.Terms, succ.Terms) < d.config.SkillFloor
}

// dependencyIndicator: both tasks anchor to the same document yet no
// directed path within the hop bound connects them in either direction.
func (d *Detector) dependencyIndicator(pred, succ plan.Task, g *graph.Graph) bool {
	if pred.SourceDoc == "" || pred.SourceDoc != succ.SourceDoc {
		return false
	}
	if g.HasPath(pred.ID, succ.ID, d.config.MaxHops) {
		return false
	}
	return !g.HasPath(succ.ID, pred.ID, d.config.MaxHops)
}
