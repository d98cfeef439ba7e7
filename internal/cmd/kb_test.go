package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep-io/gatekeep/internal/store"
)

func newCmdTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProject(t *testing.T, s *store.Store) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, "alice", "pw", "Analyst"))
	projectID, err := s.EnsureDefaultProject(ctx, "alice")
	require.NoError(t, err)
	return projectID
}

func TestIngestJSONL(t *testing.T) {
	s := newCmdTestStore(t)
	projectID := seedProject(t, s)

	input := strings.Join([]string{
		`{"doc_id":"d1","title":"Onboarding","trust_level":"trusted","text":"How to onboard new analysts."}`,
		``,
		`{"title":"Release notes","text":"Version two ships retrieval."}`,
	}, "\n")

	docs, chunks, err := ingestJSONL(context.Background(), s, strings.NewReader(input), projectID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, 2, chunks)

	stored, err := s.ListKBDocs(context.Background(), projectID)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	byTitle := make(map[string]store.KBDoc)
	for _, d := range stored {
		byTitle[d.Title] = d
	}
	assert.Equal(t, "d1", byTitle["Onboarding"].DocID)
	assert.Equal(t, "trusted", byTitle["Onboarding"].TrustLevel)
	// Missing fields fall back to defaults.
	assert.NotEmpty(t, byTitle["Release notes"].DocID)
	assert.Equal(t, "untrusted", byTitle["Release notes"].TrustLevel)
	assert.Equal(t, "cli", byTitle["Release notes"].Source)
	assert.Equal(t, "alice", byTitle["Release notes"].Owner)
}

func TestIngestJSONL_Rejections(t *testing.T) {
	s := newCmdTestStore(t)
	projectID := seedProject(t, s)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"malformed json", `{"title":`, "invalid JSON"},
		{"missing title", `{"text":"body"}`, "title and text are required"},
		{"missing text", `{"title":"t"}`, "title and text are required"},
		{"bad trust level", `{"title":"t","text":"b","trust_level":"secret"}`, "trust_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ingestJSONL(context.Background(), s, strings.NewReader(tt.input), projectID, "alice")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestIngestJSONL_ReportsFailingLineNumber(t *testing.T) {
	s := newCmdTestStore(t)
	projectID := seedProject(t, s)

	input := `{"title":"ok","text":"fine"}` + "\n" + `{"title":"bad"}`
	docs, _, err := ingestJSONL(context.Background(), s, strings.NewReader(input), projectID, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Equal(t, 1, docs)
}

func TestKBCmd_HasSubcommands(t *testing.T) {
	expected := []string{"ingest", "list"}
	registered := make(map[string]bool)
	for _, cmd := range kbCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "kb subcommand %q should be registered", name)
	}
}

func TestRenderKBList(t *testing.T) {
	var buf bytes.Buffer
	renderKBList(&buf, []store.KBDoc{
		{DocID: "d1", Title: "Onboarding", TrustLevel: "trusted", Source: "cli", Owner: "alice"},
	})
	out := buf.String()
	assert.Contains(t, out, "Documents (showing 1)")
	assert.Contains(t, out, "Onboarding")
	assert.Contains(t, out, "owner=alice")
}
