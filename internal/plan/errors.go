package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy. Structural and cycle faults abort the whole operation;
// stale references and generation failures degrade per-item; validation
// exhaustion only annotates the result.

// ErrValidationExhausted marks a validator result that hit the repair cap
// and was accepted as best-effort. It annotates, never blocks.
var ErrValidationExhausted = errors.New("validation repair cap reached")

// StructuralError reports malformed input: duplicate ids, unknown task
// references, out-of-range confidence. Never partially applied.
type StructuralError struct {
	Op     string // Operation that rejected the input
	TaskID string // Offending task id, if any
	Detail string
}

func (e *StructuralError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("structural error in %s: task %s: %s", e.Op, e.TaskID, e.Detail)
	}
	return fmt.Sprintf("structural error in %s: %s", e.Op, e.Detail)
}

// CycleError reports a directed cycle surviving where the resolver
// invariant guarantees none. It is a fatal internal-consistency fault;
// the full edge dump is carried so the failure can be reconstructed
// without replaying the input.
type CycleError struct {
	Op    string
	Edges []Edge
}

func (e *CycleError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "internal consistency fault in %s: directed cycle survived resolution:", e.Op)
	for _, edge := range e.Edges {
		fmt.Fprintf(&sb, " %s-[%s]->%s(%.2f)", edge.Source, edge.Type, edge.Target, edge.Confidence)
	}
	return sb.String()
}

// StaleReferenceError reports an anchor pair or locked task id that is no
// longer present in the current baseline. The affected item is skipped;
// the rest of the batch proceeds.
type StaleReferenceError struct {
	Kind   string // "anchor" or "lock"
	TaskID string
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("stale %s reference: task %s not in current baseline", e.Kind, e.TaskID)
}

// GenerationFailure reports that the external generator returned invalid
// or empty candidates for a gap. Surfaced as requiring manual input; the
// core never retries it.
type GenerationFailure struct {
	Predecessor string
	Successor   string
	Reason      string
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed for gap (%s, %s): %s; requires manual input",
		e.Predecessor, e.Successor, e.Reason)
}

// IsStale reports whether err is (or wraps) a StaleReferenceError.
func IsStale(err error) bool {
	var stale *StaleReferenceError
	return errors.As(err, &stale)
}
