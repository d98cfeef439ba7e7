package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndAuthenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, "alice", "s3cret", "Analyst"))

	u, err := s.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Analyst", u.Role)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = s.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestUpsertUserReplacesRoleAndPassword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, "bob", "old", "Viewer"))
	require.NoError(t, s.UpsertUser(ctx, "bob", "new", "Admin"))

	_, err := s.Authenticate(ctx, "bob", "old")
	assert.ErrorIs(t, err, ErrAuthFailed)

	u, err := s.Authenticate(ctx, "bob", "new")
	require.NoError(t, err)
	assert.Equal(t, "Admin", u.Role)
}

func TestUpsertUserRejectsEmptyFields(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.UpsertUser(context.Background(), "", "pw", "Viewer"))
	assert.Error(t, s.UpsertUser(context.Background(), "u", "", "Viewer"))
	assert.Error(t, s.UpsertUser(context.Background(), "u", "pw", ""))
}

func TestEnsureDefaultProjectIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureDefaultProject(ctx, "alice")
	require.NoError(t, err)
	second, err := s.EnsureDefaultProject(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ok, err := s.IsMember(ctx, "alice", first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsMember(ctx, "mallory", first)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectsForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orgID, err := s.GetOrCreateOrg(ctx, "acme")
	require.NoError(t, err)
	_, err = s.GetOrCreateProject(ctx, orgID, "alpha")
	require.NoError(t, err)
	_, err = s.GetOrCreateProject(ctx, orgID, "beta")
	require.NoError(t, err)
	require.NoError(t, s.AddMembership(ctx, "alice", orgID, "member"))

	projects, err := s.ProjectsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "acme", projects[0].OrgName)

	projects, err = s.ProjectsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestKBDocReingestReplacesChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := KBDoc{DocID: "d1", ProjectID: 1, Title: "Safety", Tags: "security", TrustLevel: "trusted", Source: "seed", Owner: "alice"}
	require.NoError(t, s.UpsertKBDoc(ctx, doc, []string{"first chunk", "second chunk", "third chunk"}))
	require.NoError(t, s.UpsertKBDoc(ctx, doc, []string{"only chunk"}))

	chunks, err := s.ChunksForProject(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only chunk", chunks[0].Text)
	assert.Equal(t, "Safety", chunks[0].Title)
	assert.Equal(t, "trusted", chunks[0].TrustLevel)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
}

func TestChunksForProjectScopedByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertKBDoc(ctx, KBDoc{DocID: "p1doc", ProjectID: 1, Title: "A", TrustLevel: "trusted"}, []string{"alpha"}))
	require.NoError(t, s.UpsertKBDoc(ctx, KBDoc{DocID: "p2doc", ProjectID: 2, Title: "B", TrustLevel: "trusted"}, []string{"beta"}))

	chunks, err := s.ChunksForProject(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "p1doc", chunks[0].DocID)
}

func TestTodos(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddTodo(ctx, 1, "alice", "review audit chain", "2026-09-01")
	require.NoError(t, err)
	assert.Positive(t, id)
	_, err = s.AddTodo(ctx, 1, "alice", "no due date", "")
	require.NoError(t, err)

	todos, err := s.ListTodos(ctx, 1)
	require.NoError(t, err)
	require.Len(t, todos, 2)
	// newest first
	assert.Equal(t, "no due date", todos[0].Title)
	assert.Empty(t, todos[0].DueDate)
	assert.Equal(t, "open", todos[0].Status)
	assert.Equal(t, "2026-09-01", todos[1].DueDate)

	other, err := s.ListTodos(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestListTodosForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddTodo(ctx, 1, "alice", "mine", "")
	require.NoError(t, err)
	_, err = s.AddTodo(ctx, 1, "bob", "theirs", "")
	require.NoError(t, err)

	todos, err := s.ListTodosForUser(ctx, 1, "alice")
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, "mine", todos[0].Title)
}

func TestCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrCounter(ctx, "tool_calls_total", 1))
	require.NoError(t, s.IncrCounter(ctx, "tool_calls_total", 2))
	require.NoError(t, s.IncrCounter(ctx, "chat_messages_total", 1))

	counters, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters["tool_calls_total"])
	assert.Equal(t, int64(1), counters["chat_messages_total"])
}
