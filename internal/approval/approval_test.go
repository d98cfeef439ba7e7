package approval

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep-io/gatekeep/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc, err := New(s.DB())
	require.NoError(t, err)
	return svc
}

func createTest(t *testing.T, svc *Service) int64 {
	t.Helper()
	id, err := svc.Create(context.Background(), 1, "alice", "Analyst",
		"webhook_post", `{"url":"https://hooks.example.com/x","json_body":{}}`)
	require.NoError(t, err)
	return id
}

func TestCreateAndGet(t *testing.T) {
	svc := newTestService(t)
	id := createTest(t, svc)

	a, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusProposed, a.Status)
	assert.Equal(t, "alice", a.RequestedBy)
	assert.Equal(t, "Analyst", a.RequestedRole)
	assert.Equal(t, "webhook_post", a.ToolName)
	assert.Zero(t, a.DecidedAt)
}

func TestGetUnknown(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveThenExecute(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := createTest(t, svc)

	require.NoError(t, svc.Decide(ctx, id, StatusApproved, "root", "looks fine"))
	a, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, "root", a.DecidedBy)
	assert.NotZero(t, a.DecidedAt)

	require.NoError(t, svc.MarkExecuted(ctx, id, "root"))
	a, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, a.Status)
}

func TestDeny(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := createTest(t, svc)

	require.NoError(t, svc.Decide(ctx, id, StatusDenied, "root", "too risky"))

	// a denied approval can never be executed
	assert.ErrorIs(t, svc.MarkExecuted(ctx, id, "root"), ErrWrongState)
}

func TestDecideIsOneShot(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	id := createTest(t, svc)

	require.NoError(t, svc.Decide(ctx, id, StatusApproved, "root", ""))
	assert.ErrorIs(t, svc.Decide(ctx, id, StatusDenied, "other-admin", ""), ErrWrongState)

	a, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, "root", a.DecidedBy)
}

func TestDecideRejectsInvalidStatus(t *testing.T) {
	svc := newTestService(t)
	id := createTest(t, svc)
	assert.Error(t, svc.Decide(context.Background(), id, StatusExecuted, "root", ""))
	assert.Error(t, svc.Decide(context.Background(), id, "nonsense", "root", ""))
}

func TestExecuteRequiresApprovedState(t *testing.T) {
	svc := newTestService(t)
	id := createTest(t, svc)
	assert.ErrorIs(t, svc.MarkExecuted(context.Background(), id, "root"), ErrWrongState)
}

func TestTransitionUnknownID(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Decide(context.Background(), 999, StatusApproved, "root", ""), ErrNotFound)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := createTest(t, svc)
	second := createTest(t, svc)
	require.NoError(t, svc.Decide(ctx, first, StatusApproved, "root", ""))

	pending, err := svc.List(ctx, 1, StatusProposed)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ID)

	all, err := svc.List(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	// newest first
	assert.Equal(t, second, all[0].ID)

	other, err := svc.List(ctx, 2, "")
	require.NoError(t, err)
	assert.Empty(t, other)
}
