// Package ledger keeps the tamper-evident audit trail. Events chain per
// project: each row hashes its payload together with the previous row's
// hash, so editing or deleting any historical row breaks verification for
// everything after it.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatekeep-io/gatekeep/internal/otel"
)

// Event types recorded by the gateway.
const (
	EventPlan             = "plan"
	EventToolCall         = "tool_call"
	EventApprovalCreated  = "approval_created"
	EventApprovalDecide   = "approval_decide"
	EventApprovedToolExec = "approved_tool_exec"
)

// Outcomes an event may carry.
const (
	OutcomeOK      = "ok"
	OutcomeBlocked = "blocked"
	OutcomeFail    = "fail"
)

// Event is one appended audit row.
type Event struct {
	ID        int64  `json:"id"`
	TS        int64  `json:"ts"`
	ProjectID int64  `json:"project_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	EventType string `json:"event_type"`
	ToolName  string `json:"tool_name,omitempty"`
	Request   string `json:"request_json,omitempty"`
	Result    string `json:"result_json,omitempty"`
	Outcome   string `json:"outcome"`
	Notes     string `json:"notes,omitempty"`
	PrevHash  string `json:"prev_hash"`
	ThisHash  string `json:"this_hash"`
}

// Entry is the caller-supplied part of an event.
type Entry struct {
	ProjectID int64
	Username  string
	Role      string
	EventType string
	ToolName  string
	Request   string
	Result    string
	Outcome   string
	Notes     string
}

// Ledger appends and verifies hash-chained audit events.
type Ledger struct {
	db *sql.DB

	// mu serializes appends per project so concurrent turns cannot race on
	// the chain head.
	mu       sync.Mutex
	projects map[int64]*sync.Mutex

	// nowFn is swapped in tests.
	nowFn func() int64
}

// New creates the ledger over the shared database handle and applies its
// schema.
func New(db *sql.DB) (*Ledger, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		project_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tool_name TEXT NOT NULL DEFAULT '',
		request_json TEXT NOT NULL DEFAULT '',
		result_json TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		prev_hash TEXT NOT NULL,
		this_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_project ON audit_events(project_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Ledger{
		db:       db,
		projects: make(map[int64]*sync.Mutex),
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

func (l *Ledger) projectLock(projectID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.projects[projectID]
	if !ok {
		m = &sync.Mutex{}
		l.projects[projectID] = m
	}
	return m
}

func chainHash(prevHash, payload string) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func payload(ts int64, e Entry) string {
	return fmt.Sprintf("%d|%d|%s|%s|%s|%s|%s|%s|%s|%s",
		ts, e.ProjectID, e.Username, e.Role, e.EventType,
		e.ToolName, e.Request, e.Result, e.Outcome, e.Notes)
}

// Append records an event at the project's chain head. The first event of a
// project chains from the empty string.
func (l *Ledger) Append(ctx context.Context, e Entry) (Event, error) {
	ctx, span := otel.Tracer("ledger").Start(ctx, "ledger.Append")
	defer span.End()

	lock := l.projectLock(e.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	var prevHash string
	err := l.db.QueryRowContext(ctx,
		`SELECT this_hash FROM audit_events WHERE project_id = ? ORDER BY id DESC LIMIT 1`,
		e.ProjectID).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("reading chain head: %w", err)
	}

	ts := l.nowFn()
	thisHash := chainHash(prevHash, payload(ts, e))

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events(ts, project_id, username, role, event_type, tool_name,
		   request_json, result_json, outcome, notes, prev_hash, this_hash)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, e.ProjectID, e.Username, e.Role, e.EventType, e.ToolName,
		e.Request, e.Result, e.Outcome, e.Notes, prevHash, thisHash)
	if err != nil {
		return Event{}, fmt.Errorf("appending audit event: %w", err)
	}
	id, _ := res.LastInsertId()

	log.Debug().
		Int64("project_id", e.ProjectID).
		Str("event_type", e.EventType).
		Str("outcome", e.Outcome).
		Msg("audit event appended")

	return Event{
		ID: id, TS: ts, ProjectID: e.ProjectID, Username: e.Username, Role: e.Role,
		EventType: e.EventType, ToolName: e.ToolName, Request: e.Request,
		Result: e.Result, Outcome: e.Outcome, Notes: e.Notes,
		PrevHash: prevHash, ThisHash: thisHash,
	}, nil
}

// List returns the project's events, newest first, capped at limit.
func (l *Ledger) List(ctx context.Context, projectID int64, limit int) ([]Event, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, ts, project_id, username, role, event_type, tool_name,
		   request_json, result_json, outcome, notes, prev_hash, this_hash
		 FROM audit_events WHERE project_id = ? ORDER BY id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// VerifyResult is the outcome of a chain walk.
type VerifyResult struct {
	OK       bool   `json:"ok"`
	Checked  int    `json:"checked"`
	BrokenID int64  `json:"broken_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Verify walks the project's chain oldest to newest, recomputing every hash.
// It reports the first row that fails either linkage (prev_hash mismatch) or
// integrity (this_hash mismatch).
func (l *Ledger) Verify(ctx context.Context, projectID int64) (VerifyResult, error) {
	ctx, span := otel.Tracer("ledger").Start(ctx, "ledger.Verify")
	defer span.End()

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, ts, project_id, username, role, event_type, tool_name,
		   request_json, result_json, outcome, notes, prev_hash, this_hash
		 FROM audit_events WHERE project_id = ? ORDER BY id ASC`,
		projectID)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading audit chain: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return VerifyResult{}, err
	}

	expectedPrev := ""
	for i, e := range events {
		// A purge may have removed the oldest rows; the surviving head then
		// chains from a hash we no longer hold, so linkage restarts there.
		if i == 0 {
			expectedPrev = e.PrevHash
		}
		if e.PrevHash != expectedPrev {
			return VerifyResult{Checked: i, BrokenID: e.ID, Reason: "prev_hash mismatch"}, nil
		}
		entry := Entry{
			ProjectID: e.ProjectID, Username: e.Username, Role: e.Role,
			EventType: e.EventType, ToolName: e.ToolName, Request: e.Request,
			Result: e.Result, Outcome: e.Outcome, Notes: e.Notes,
		}
		if chainHash(e.PrevHash, payload(e.TS, entry)) != e.ThisHash {
			return VerifyResult{Checked: i, BrokenID: e.ID, Reason: "this_hash mismatch"}, nil
		}
		expectedPrev = e.ThisHash
	}
	return VerifyResult{OK: true, Checked: len(events)}, nil
}

// Purge deletes the project's events older than the retention window and
// returns how many were removed. Verification of the surviving chain still
// passes because linkage restarts at the new oldest row.
func (l *Ledger) Purge(ctx context.Context, projectID int64, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		return 0, fmt.Errorf("retention days must be positive")
	}
	cutoff := l.nowFn() - int64(retentionDays)*86400

	lock := l.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE project_id = ? AND ts < ?`,
		projectID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging audit events: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		log.Info().Int64("project_id", projectID).Int64("deleted", deleted).Msg("audit events purged")
	}
	return deleted, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TS, &e.ProjectID, &e.Username, &e.Role,
			&e.EventType, &e.ToolName, &e.Request, &e.Result, &e.Outcome,
			&e.Notes, &e.PrevHash, &e.ThisHash); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
