// Package plan defines the shared data model for taskloom: tasks, typed
// relationship edges, ordered plans, detected gaps, and reflection effects.
//
// Every operation in the graph, gaps, ranker, and validator packages consumes
// and produces these types as explicit snapshots. Nothing here holds locks or
// performs I/O; callers choose which snapshot is authoritative.
package plan

import (
	"sort"
	"time"
)

// TaskStatus represents the lifecycle tag of a task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "/active"    // Normal, rankable task
	TaskManual    TaskStatus = "/manual"    // User-edited, rankable
	TaskExcluded  TaskStatus = "/excluded"  // Excluded by a directive
	TaskDiscarded TaskStatus = "/discarded" // Soft-deleted, recoverable
)

// Rankable reports whether a task with this status may appear in an
// ordered plan sequence.
func (s TaskStatus) Rankable() bool {
	return s == TaskActive || s == TaskManual
}

// EdgeType represents the type of a relationship edge.
type EdgeType string

const (
	EdgePrerequisite EdgeType = "/prerequisite"
	EdgeBlocks       EdgeType = "/blocks"
	EdgeRelated      EdgeType = "/related"
)

// Directed reports whether the edge type is directed and therefore
// participates in cycle detection. Related edges are symmetric and are
// never part of a cycle check.
func (t EdgeType) Directed() bool {
	return t == EdgePrerequisite || t == EdgeBlocks
}

// Task is an atomic unit of work derived from an ingested document or
// accepted as a bridging task. Tasks are never deleted, only marked
// discarded.
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	SourceDoc   string     `json:"source_doc,omitempty"`
	EffortHours int        `json:"effort_hours"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`

	// Provenance for bridging tasks
	BridgedFrom string `json:"bridged_from,omitempty"` // Predecessor anchor id
	BridgedTo   string `json:"bridged_to,omitempty"`   // Successor anchor id
}

// Edge is a typed relationship between two tasks with a confidence weight.
// Identity is (Source, Target, Type); at most one directed type may exist
// per (Source, Target) pair.
type Edge struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       EdgeType `json:"type"`
	Confidence float64  `json:"confidence"`
}

// Exclusion records a task excluded from a plan together with the reason.
type Exclusion struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// OrderedPlan is a priority ordering over task ids. Head of Sequence is
// the highest-priority task. The Excluded set carries tasks removed by
// directives, never merely demoted.
type OrderedPlan struct {
	ID         string             `json:"id"`
	Sequence   []string           `json:"sequence"`
	Confidence map[string]float64 `json:"confidence,omitempty"`
	Excluded   []Exclusion        `json:"excluded,omitempty"`
	Revision   int                `json:"revision"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Clone returns a deep copy of the plan. Operations that reorder or splice
// work on a clone and return it, leaving the baseline untouched.
func (p *OrderedPlan) Clone() *OrderedPlan {
	if p == nil {
		return nil
	}
	out := &OrderedPlan{
		ID:        p.ID,
		Sequence:  append([]string(nil), p.Sequence...),
		Revision:  p.Revision,
		CreatedAt: p.CreatedAt,
	}
	if p.Confidence != nil {
		out.Confidence = make(map[string]float64, len(p.Confidence))
		for k, v := range p.Confidence {
			out.Confidence[k] = v
		}
	}
	if p.Excluded != nil {
		out.Excluded = append([]Exclusion(nil), p.Excluded...)
	}
	return out
}

// IndexOf returns the position of a task in the sequence, or -1.
func (p *OrderedPlan) IndexOf(taskID string) int {
	for i, id := range p.Sequence {
		if id == taskID {
			return i
		}
	}
	return -1
}

// Contains reports whether the task appears in the sequence.
func (p *OrderedPlan) Contains(taskID string) bool {
	return p.IndexOf(taskID) >= 0
}

// IsExcluded reports whether the task appears in the excluded set.
func (p *OrderedPlan) IsExcluded(taskID string) bool {
	for _, ex := range p.Excluded {
		if ex.TaskID == taskID {
			return true
		}
	}
	return false
}

// Indicator identifies one of the four independent gap indicators.
type Indicator string

const (
	IndicatorTime       Indicator = "/time"        // Combined effort jump
	IndicatorActionType Indicator = "/action_type" // Category discontinuity
	IndicatorSkill      Indicator = "/skill"       // No topical overlap
	IndicatorDependency Indicator = "/dependency"  // No graph path
)

// Gap flags a suspected missing step between two adjacent tasks in a plan
// snapshot. Gaps are transient: recomputed on demand, never authoritative.
type Gap struct {
	Predecessor string      `json:"predecessor"`
	Successor   string      `json:"successor"`
	Indicators  []Indicator `json:"indicators"`
	Severity    int         `json:"severity"` // Count of indicators fired
}

// EffectKind is the kind of influence a reflection has on one task.
type EffectKind string

const (
	EffectBoosted EffectKind = "/boosted"
	EffectDemoted EffectKind = "/demoted"
	EffectBlocked EffectKind = "/blocked"
)

// ReflectionEffect is the interpreted influence of one reflection on one
// task. Produced upstream, consumed only by the incremental ranker.
type ReflectionEffect struct {
	ReflectionID string     `json:"reflection_id"`
	TaskID       string     `json:"task_id"`
	Effect       EffectKind `json:"effect"`
	Magnitude    float64    `json:"magnitude"` // Positive number
}

// Reflection is a short user-supplied contextual note. The core never
// parses reflection text; classification arrives as a Directive.
type Reflection struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Active        bool      `json:"active"`
	RecencyWeight float64   `json:"recency_weight"`
	CreatedAt     time.Time `json:"created_at"`
}

// DirectiveKind classifies a reflection's intent.
type DirectiveKind string

const (
	DirectiveNegation DirectiveKind = "/negation" // "ignore X": targets must be excluded
	DirectivePositive DirectiveKind = "/positive" // "focus on Y": targets must rank high
	DirectiveNeutral  DirectiveKind = "/neutral"
)

// Directive is the upstream classifier's verdict for one reflection:
// its kind and the task ids it targets.
type Directive struct {
	ReflectionID string        `json:"reflection_id"`
	Kind         DirectiveKind `json:"kind"`
	TargetTasks  []string      `json:"target_tasks"`
	Pattern      string        `json:"pattern,omitempty"` // Matched phrase, for reporting
}

// LockSet is the set of task ids whose positions must not change across an
// incremental adjustment. Owned by the caller; the core never mutates it.
type LockSet map[string]struct{}

// NewLockSet builds a lock set from task ids.
func NewLockSet(ids ...string) LockSet {
	ls := make(LockSet, len(ids))
	for _, id := range ids {
		ls[id] = struct{}{}
	}
	return ls
}

// Has reports lock membership.
func (ls LockSet) Has(taskID string) bool {
	_, ok := ls[taskID]
	return ok
}

// IDs returns the locked ids in sorted order, for deterministic reporting.
func (ls LockSet) IDs() []string {
	ids := make([]string, 0, len(ls))
	for id := range ls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MedianEffort returns the median per-task effort of the plan's rankable
// tasks. Returns 0 for an empty plan.
func MedianEffort(p *OrderedPlan, tasks map[string]Task) int {
	efforts := make([]int, 0, len(p.Sequence))
	for _, id := range p.Sequence {
		if t, ok := tasks[id]; ok {
			efforts = append(efforts, t.EffortHours)
		}
	}
	if len(efforts) == 0 {
		return 0
	}
	sort.Ints(efforts)
	return efforts[len(efforts)/2]
}
