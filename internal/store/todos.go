package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Todo is a task created through the create_todo tool.
type Todo struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Username  string `json:"username"`
	Title     string `json:"title"`
	DueDate   string `json:"due_date,omitempty"`
	Status    string `json:"status"`
}

// AddTodo inserts an open todo and returns its id.
func (s *Store) AddTodo(ctx context.Context, projectID int64, username, title, dueDate string) (int64, error) {
	var due any
	if dueDate != "" {
		due = dueDate
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos(project_id, username, title, due_date, status, created_at)
		 VALUES(?, ?, ?, ?, 'open', ?)`,
		projectID, username, title, due, now())
	if err != nil {
		return 0, fmt.Errorf("inserting todo: %w", err)
	}
	return res.LastInsertId()
}

// ListTodos returns the project's todos, newest first.
func (s *Store) ListTodos(ctx context.Context, projectID int64) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, username, title, COALESCE(due_date, ''), status
		 FROM todos WHERE project_id = ? ORDER BY id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	defer rows.Close()
	return scanTodos(rows)
}

// ListTodosForUser returns the user's own todos in the project, newest
// first. The list_todos tool is scoped this way; the project-wide listing
// above serves the admin surface.
func (s *Store) ListTodosForUser(ctx context.Context, projectID int64, username string) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, username, title, COALESCE(due_date, ''), status
		 FROM todos WHERE project_id = ? AND username = ? ORDER BY id DESC`,
		projectID, username)
	if err != nil {
		return nil, fmt.Errorf("listing todos: %w", err)
	}
	defer rows.Close()
	return scanTodos(rows)
}

func scanTodos(rows *sql.Rows) ([]Todo, error) {
	var out []Todo
	for rows.Next() {
		var t Todo
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Username, &t.Title, &t.DueDate, &t.Status); err != nil {
			return nil, fmt.Errorf("scanning todo: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
