// Package store persists graph snapshots, baseline plans, and the
// resolution audit trail in a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskloom/internal/graph"
	"taskloom/internal/logging"
	"taskloom/internal/plan"
)

// Store is the local persistence layer. A single connection with WAL
// journaling; all access serialized through the store's own lock.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	auditRetention int
}

// Open initializes the SQLite database at the given path, creating the
// directory and schema as needed.
func Open(path string, auditRetention int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, auditRetention: auditRetention}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.StoreDebug("Store schema initialized")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS graph_tasks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		source_doc TEXT,
		effort_hours INTEGER DEFAULT 0,
		status TEXT NOT NULL,
		bridged_from TEXT,
		bridged_to TEXT,
		created_at DATETIME,
		updated_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_graph_tasks_status ON graph_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_graph_tasks_source ON graph_tasks(source_doc);

	CREATE TABLE IF NOT EXISTS graph_edges (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		type TEXT NOT NULL,
		confidence REAL NOT NULL,
		PRIMARY KEY(source, target, type)
	);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source);
	CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		revision INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS resolution_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		edge_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		reason TEXT,
		cycle TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_resolution_audit_created ON resolution_audit(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveGraph replaces the persisted graph with the given snapshot, tasks
// and edges together in one transaction.
func (s *Store) SaveGraph(g *graph.Graph) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveGraph")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM graph_tasks"); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM graph_edges"); err != nil {
		return fmt.Errorf("failed to clear edges: %w", err)
	}

	taskStmt, err := tx.Prepare(`INSERT INTO graph_tasks
		(id, text, source_doc, effort_hours, status, bridged_from, bridged_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer taskStmt.Close()
	for _, t := range g.Tasks() {
		if _, err := taskStmt.Exec(t.ID, t.Text, t.SourceDoc, t.EffortHours, string(t.Status),
			t.BridgedFrom, t.BridgedTo, t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}

	edgeStmt, err := tx.Prepare(`INSERT INTO graph_edges (source, target, type, confidence) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range g.Edges() {
		if _, err := edgeStmt.Exec(e.Source, e.Target, string(e.Type), e.Confidence); err != nil {
			return fmt.Errorf("failed to insert edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph: %w", err)
	}
	logging.StoreDebug("SaveGraph: %d tasks, %d edges", len(g.Tasks()), len(g.Edges()))
	return nil
}

// LoadGraph rebuilds the graph from the persisted snapshot. An empty
// database yields an empty graph, not an error.
func (s *Store) LoadGraph() (*graph.Graph, error) {
	timer := logging.StartTimer(logging.CategoryStore, "LoadGraph")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	g := graph.New()

	rows, err := s.db.Query(`SELECT id, text, source_doc, effort_hours, status,
		bridged_from, bridged_to, created_at, updated_at FROM graph_tasks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t plan.Task
		var status string
		var sourceDoc, bridgedFrom, bridgedTo sql.NullString
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Text, &sourceDoc, &t.EffortHours, &status,
			&bridgedFrom, &bridgedTo, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Status = plan.TaskStatus(status)
		t.SourceDoc = sourceDoc.String
		t.BridgedFrom = bridgedFrom.String
		t.BridgedTo = bridgedTo.String
		t.CreatedAt = createdAt.Time
		t.UpdatedAt = updatedAt.Time
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	edgeRows, err := s.db.Query(`SELECT source, target, type, confidence FROM graph_edges`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()
	var edges []plan.Edge
	for edgeRows.Next() {
		var e plan.Edge
		var edgeType string
		if err := edgeRows.Scan(&e.Source, &e.Target, &edgeType, &e.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Type = plan.EdgeType(edgeType)
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}

	// Persisted edges are known-acyclic, but they still route through
	// resolution so a hand-edited database cannot smuggle in a cycle.
	if len(edges) > 0 {
		proposal, err := graph.ProposeEdges(g, edges)
		if err != nil {
			return nil, fmt.Errorf("failed to restore edges: %w", err)
		}
		g = proposal.Graph
	}

	logging.StoreDebug("LoadGraph: %d tasks, %d edges", len(g.Tasks()), len(g.Edges()))
	return g, nil
}

// SaveBaseline upserts a plan snapshot keyed by plan id. The full plan is
// stored as JSON; revision is duplicated in a column for cheap listing.
func (s *Store) SaveBaseline(p *plan.OrderedPlan) error {
	if p == nil || p.ID == "" {
		return &plan.StructuralError{Op: "SaveBaseline", Detail: "plan must have an id"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO plans (id, revision, payload, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET revision = excluded.revision, payload = excluded.payload,
		saved_at = CURRENT_TIMESTAMP`,
		p.ID, p.Revision, string(payload), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.ID, err)
	}
	logging.StoreDebug("SaveBaseline: plan %s revision %d", p.ID, p.Revision)
	return nil
}

// LoadBaseline loads a plan snapshot by id. A missing plan returns a
// stale-reference error so callers can distinguish it from corruption.
func (s *Store) LoadBaseline(planID string) (*plan.OrderedPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRow(`SELECT payload FROM plans WHERE id = ?`, planID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &plan.StaleReferenceError{Kind: "plan", TaskID: planID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}

	var p plan.OrderedPlan
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan %s: %w", planID, err)
	}
	return &p, nil
}

// AppendResolutions records removed edges from a resolution pass, trimming
// the trail to the configured retention afterwards.
func (s *Store) AppendResolutions(conflicts []graph.ResolvedConflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO resolution_audit
		(source, target, edge_type, confidence, reason, cycle) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range conflicts {
		cycle := ""
		if len(c.Cycle) > 0 {
			b, err := json.Marshal(c.Cycle)
			if err == nil {
				cycle = string(b)
			}
		}
		if _, err := stmt.Exec(c.Removed.Source, c.Removed.Target, string(c.Removed.Type),
			c.Removed.Confidence, c.Reason, cycle); err != nil {
			return fmt.Errorf("failed to insert audit row: %w", err)
		}
	}

	if s.auditRetention > 0 {
		if _, err := tx.Exec(`DELETE FROM resolution_audit WHERE id NOT IN
			(SELECT id FROM resolution_audit ORDER BY id DESC LIMIT ?)`, s.auditRetention); err != nil {
			return fmt.Errorf("failed to trim audit trail: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit rows: %w", err)
	}
	logging.StoreDebug("AppendResolutions: %d rows", len(conflicts))
	return nil
}

// Resolution is one persisted audit row.
type Resolution struct {
	ID         int64       `json:"id"`
	Removed    plan.Edge   `json:"removed"`
	Reason     string      `json:"reason"`
	Cycle      []plan.Edge `json:"cycle,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// ListResolutions returns the most recent audit rows, newest first.
func (s *Store) ListResolutions(limit int) ([]Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, source, target, edge_type, confidence, reason, cycle, created_at
		FROM resolution_audit ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit rows: %w", err)
	}
	defer rows.Close()

	var out []Resolution
	for rows.Next() {
		var r Resolution
		var edgeType string
		var reason, cycle sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Removed.Source, &r.Removed.Target, &edgeType,
			&r.Removed.Confidence, &reason, &cycle, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		r.Removed.Type = plan.EdgeType(edgeType)
		r.Reason = reason.String
		r.RecordedAt = createdAt.Time
		if cycle.String != "" {
			if err := json.Unmarshal([]byte(cycle.String), &r.Cycle); err != nil {
				logging.StoreDebug("Malformed cycle payload in audit row %d: %v", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return out, nil
}
