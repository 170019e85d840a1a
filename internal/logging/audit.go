// Audit logging: structured events for the decisions this system must be
// able to account for afterwards - which edges were dropped to break a
// cycle, which bridging insertions were applied or skipped, which ranking
// results were superseded, and what verdict the validation loop reached.
// Events are written as JSON lines to .taskloom/logs/<date>_audit.log.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Cycle resolution -> one event per removed edge
	AuditCycleResolved AuditEventType = "cycle_resolved"
	AuditEdgeRejected  AuditEventType = "edge_rejected"

	// Bridging insertion
	AuditBridgeInserted AuditEventType = "bridge_inserted"
	AuditBridgeSkipped  AuditEventType = "bridge_skipped"

	// Incremental ranking
	AuditRankAdjusted   AuditEventType = "rank_adjusted"
	AuditRankSuperseded AuditEventType = "rank_superseded"

	// Validation loop
	AuditPlanValidated   AuditEventType = "plan_validated"
	AuditRepairRequested AuditEventType = "repair_requested"

	// External planner calls
	AuditPlannerCall  AuditEventType = "planner_call"
	AuditPlannerError AuditEventType = "planner_error"
)

// AuditEvent is one structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat"`
	Target     string                 `json:"target,omitempty"` // Task/edge/plan id
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger = &AuditLogger{}
)

// AuditLogger emits structured audit events.
type AuditLogger struct {
	category Category
}

// InitAudit initializes the audit logging system.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	return auditLogger
}

// AuditWithCategory returns an audit logger scoped to a category.
func AuditWithCategory(category Category) *AuditLogger {
	return &AuditLogger{category: category}
}

// Log writes an audit event. No-op when audit logging is not initialized.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Category == "" {
		event.Category = string(a.category)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(data)
	auditFile.WriteString("\n")
}

// CycleResolved records one edge removed to break a cycle.
func (a *AuditLogger) CycleResolved(source, target string, edgeType string, confidence float64, cycleLen int) {
	a.Log(AuditEvent{
		EventType: AuditCycleResolved,
		Category:  string(CategoryGraph),
		Target:    fmt.Sprintf("%s->%s", source, target),
		Success:   true,
		Message:   "edge removed to break cycle",
		Fields: map[string]interface{}{
			"type":       edgeType,
			"confidence": confidence,
			"cycle_len":  cycleLen,
		},
	})
}

// BridgeInserted records a bridging task spliced into the ordering.
func (a *AuditLogger) BridgeInserted(bridgeID, predecessor, successor string, conflicts int) {
	a.Log(AuditEvent{
		EventType: AuditBridgeInserted,
		Category:  string(CategoryGaps),
		Target:    bridgeID,
		Success:   true,
		Fields: map[string]interface{}{
			"predecessor": predecessor,
			"successor":   successor,
			"conflicts":   conflicts,
		},
	})
}

// BridgeSkipped records a stale-anchor insertion that was skipped.
func (a *AuditLogger) BridgeSkipped(bridgeID, staleAnchor string) {
	a.Log(AuditEvent{
		EventType: AuditBridgeSkipped,
		Category:  string(CategoryGaps),
		Target:    bridgeID,
		Success:   false,
		Error:     fmt.Sprintf("stale anchor %s", staleAnchor),
	})
}

// RankAdjusted records a completed incremental adjustment.
func (a *AuditLogger) RankAdjusted(planID string, generation uint64, moved int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditRankAdjusted,
		Category:   string(CategoryRanker),
		Target:     planID,
		Success:    true,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"generation": generation,
			"moved":      moved,
		},
	})
}

// RankSuperseded records an adjustment discarded at apply time.
func (a *AuditLogger) RankSuperseded(planID string, staleGen, currentGen uint64) {
	a.Log(AuditEvent{
		EventType: AuditRankSuperseded,
		Category:  string(CategoryRanker),
		Target:    planID,
		Success:   false,
		Message:   "stale result discarded",
		Fields: map[string]interface{}{
			"stale_generation":   staleGen,
			"current_generation": currentGen,
		},
	})
}

// PlanValidated records the final verdict of a validation loop.
func (a *AuditLogger) PlanValidated(planID, verdict string, iterations int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditPlanValidated,
		Category:   string(CategoryValidator),
		Target:     planID,
		Success:    verdict == "/accepted",
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"verdict":    verdict,
			"iterations": iterations,
		},
	})
}

// RepairRequested records one repair iteration sent back to the planner.
func (a *AuditLogger) RepairRequested(planID string, attempt int, stage string, problems int) {
	a.Log(AuditEvent{
		EventType: AuditRepairRequested,
		Category:  string(CategoryValidator),
		Target:    planID,
		Success:   false,
		Fields: map[string]interface{}{
			"attempt":  attempt,
			"stage":    stage,
			"problems": problems,
		},
	})
}

// PlannerCall records an external planner invocation.
func (a *AuditLogger) PlannerCall(model string, durationMs int64, success bool, errMsg string) {
	eventType := AuditPlannerCall
	if !success {
		eventType = AuditPlannerError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryPlanner),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}
