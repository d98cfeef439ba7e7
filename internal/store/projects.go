package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Project is a governance scope: the audit ledger chains per project and
// every turn runs against exactly one.
type Project struct {
	ID      int64  `json:"id"`
	OrgID   int64  `json:"org_id"`
	Name    string `json:"name"`
	OrgName string `json:"org_name"`
}

// GetOrCreateOrg returns the org id for name, creating it on first use.
func (s *Store) GetOrCreateOrg(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM orgs WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("querying org %s: %w", name, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO orgs(name, created_at) VALUES(?, ?)`, name, now())
	if err != nil {
		return 0, fmt.Errorf("creating org %s: %w", name, err)
	}
	return res.LastInsertId()
}

// GetOrCreateProject returns the project id for (org, name), creating it on
// first use.
func (s *Store) GetOrCreateProject(ctx context.Context, orgID int64, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM projects WHERE org_id = ? AND name = ?`, orgID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("querying project %s: %w", name, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO projects(org_id, name, created_at) VALUES(?, ?, ?)`,
		orgID, name, now())
	if err != nil {
		return 0, fmt.Errorf("creating project %s: %w", name, err)
	}
	return res.LastInsertId()
}

// AddMembership grants username membership in the org, ignoring duplicates.
func (s *Store) AddMembership(ctx context.Context, username string, orgID int64, roleInOrg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships(username, org_id, role_in_org, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(username, org_id) DO NOTHING`,
		username, orgID, roleInOrg, now())
	if err != nil {
		return fmt.Errorf("adding membership: %w", err)
	}
	return nil
}

// IsMember reports whether username belongs to the org owning the project.
func (s *Store) IsMember(ctx context.Context, username string, projectID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships m
		 JOIN projects p ON p.org_id = m.org_id
		 WHERE m.username = ? AND p.id = ?`,
		username, projectID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return n > 0, nil
}

// ProjectsForUser lists every project reachable through the user's org
// memberships.
func (s *Store) ProjectsForUser(ctx context.Context, username string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.org_id, p.name, o.name
		 FROM projects p
		 JOIN orgs o ON o.id = p.org_id
		 JOIN memberships m ON m.org_id = p.org_id
		 WHERE m.username = ?
		 ORDER BY p.id`,
		username)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.OrgName); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EnsureDefaultProject makes sure the user can run turns immediately: a
// "default" org and project exist and the user is a member. Returns the
// project id.
func (s *Store) EnsureDefaultProject(ctx context.Context, username string) (int64, error) {
	orgID, err := s.GetOrCreateOrg(ctx, "default")
	if err != nil {
		return 0, err
	}
	projectID, err := s.GetOrCreateProject(ctx, orgID, "default")
	if err != nil {
		return 0, err
	}
	if err := s.AddMembership(ctx, username, orgID, "member"); err != nil {
		return 0, err
	}
	return projectID, nil
}
