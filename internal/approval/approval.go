// Package approval holds the human-in-the-loop state machine for high-risk
// tool calls: proposed -> approved or denied, approved -> executed. The
// decision and the execution are separate steps taken by an admin; the
// execution itself runs elsewhere with the original requester's identity.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Approval statuses.
const (
	StatusProposed = "proposed"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExecuted = "executed"
)

// ErrNotFound is returned for an unknown approval id.
var ErrNotFound = errors.New("approval not found")

// ErrWrongState is returned when a transition is attempted from any state
// other than the one it requires. Deciding is a one-shot: two admins racing
// on the same approval means exactly one wins.
var ErrWrongState = errors.New("approval is not in the required state")

// Approval is one pending or settled high-risk request.
type Approval struct {
	ID            int64  `json:"id"`
	ProjectID     int64  `json:"project_id"`
	RequestedBy   string `json:"requested_by"`
	RequestedRole string `json:"requested_role"`
	ToolName      string `json:"tool_name"`
	ArgsJSON      string `json:"args_json"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
	DecidedAt     int64  `json:"decided_at,omitempty"`
	DecidedBy     string `json:"decided_by,omitempty"`
	DecisionNotes string `json:"decision_notes,omitempty"`
}

// Service persists approvals over the shared database handle.
type Service struct {
	db *sql.DB
}

// New creates the service and applies its schema.
func New(db *sql.DB) (*Service, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS approvals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		requested_by TEXT NOT NULL,
		requested_role TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		args_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'proposed',
		created_at INTEGER NOT NULL,
		decided_at INTEGER,
		decided_by TEXT,
		decision_notes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_project ON approvals(project_id, status);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating approvals schema: %w", err)
	}
	return &Service{db: db}, nil
}

// Create records a proposed approval and returns its id. Arguments are
// stored as the validated JSON so execution replays exactly what was
// reviewed.
func (s *Service) Create(ctx context.Context, projectID int64, requestedBy, requestedRole, toolName, argsJSON string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals(project_id, requested_by, requested_role, tool_name, args_json, status, created_at)
		 VALUES(?, ?, ?, ?, ?, 'proposed', ?)`,
		projectID, requestedBy, requestedRole, toolName, argsJSON, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("creating approval: %w", err)
	}
	return res.LastInsertId()
}

// Get returns one approval by id.
func (s *Service) Get(ctx context.Context, id int64) (Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, requested_by, requested_role, tool_name, args_json,
		   status, created_at, COALESCE(decided_at, 0), COALESCE(decided_by, ''),
		   COALESCE(decision_notes, '')
		 FROM approvals WHERE id = ?`, id)

	var a Approval
	err := row.Scan(&a.ID, &a.ProjectID, &a.RequestedBy, &a.RequestedRole, &a.ToolName,
		&a.ArgsJSON, &a.Status, &a.CreatedAt, &a.DecidedAt, &a.DecidedBy, &a.DecisionNotes)
	if errors.Is(err, sql.ErrNoRows) {
		return Approval{}, ErrNotFound
	}
	if err != nil {
		return Approval{}, fmt.Errorf("loading approval %d: %w", id, err)
	}
	return a, nil
}

// List returns the project's approvals newest first, optionally filtered by
// status.
func (s *Service) List(ctx context.Context, projectID int64, status string) ([]Approval, error) {
	query := `SELECT id, project_id, requested_by, requested_role, tool_name, args_json,
	   status, created_at, COALESCE(decided_at, 0), COALESCE(decided_by, ''),
	   COALESCE(decision_notes, '')
	 FROM approvals WHERE project_id = ?`
	args := []any{projectID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RequestedBy, &a.RequestedRole, &a.ToolName,
			&a.ArgsJSON, &a.Status, &a.CreatedAt, &a.DecidedAt, &a.DecidedBy, &a.DecisionNotes); err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Decide settles a proposed approval as approved or denied.
func (s *Service) Decide(ctx context.Context, id int64, status, decidedBy, notes string) error {
	if status != StatusApproved && status != StatusDenied {
		return fmt.Errorf("invalid decision status %q", status)
	}
	return s.transition(ctx, id, StatusProposed, status, decidedBy, notes)
}

// MarkExecuted moves an approved request to executed. A failed execution
// never calls this, so the approval stays approved and can be retried.
func (s *Service) MarkExecuted(ctx context.Context, id int64, executedBy string) error {
	return s.transition(ctx, id, StatusApproved, StatusExecuted, executedBy, "executed")
}

func (s *Service) transition(ctx context.Context, id int64, from, to, by, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?, decision_notes = ?
		 WHERE id = ? AND status = ?`,
		to, time.Now().Unix(), by, notes, id, from)
	if err != nil {
		return fmt.Errorf("updating approval %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking approval update: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrWrongState
	}
	return nil
}
