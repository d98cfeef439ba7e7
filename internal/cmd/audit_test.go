package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep-io/gatekeep/internal/ledger"
)

func TestAuditCmd_HasSubcommands(t *testing.T) {
	expected := []string{"list", "verify", "purge"}
	registered := make(map[string]bool)
	for _, cmd := range auditCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "audit subcommand %q should be registered", name)
	}
}

func TestAuditCmd_Flags(t *testing.T) {
	assert.NotNil(t, auditCmd.PersistentFlags().Lookup("project"))
	assert.NotNil(t, auditListCmd.Flags().Lookup("limit"))
	assert.NotNil(t, auditPurgeCmd.Flags().Lookup("retention-days"))
}

func TestAuditListCmd_LimitDefault(t *testing.T) {
	flag := auditListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestRenderAuditList(t *testing.T) {
	var buf bytes.Buffer
	events := []ledger.Event{
		{ID: 1, TS: 1739872800, Username: "alice", Role: "Analyst", EventType: ledger.EventToolCall, ToolName: "kb_search", Outcome: ledger.OutcomeOK},
		{ID: 2, TS: 1739872860, Username: "vera", Role: "Viewer", EventType: ledger.EventToolCall, ToolName: "webhook_post", Outcome: ledger.OutcomeBlocked},
		{ID: 3, TS: 1739872920, Username: "alice", Role: "Analyst", EventType: ledger.EventPlan, Outcome: ledger.OutcomeOK},
	}
	renderAuditList(&buf, events)
	out := buf.String()
	assert.Contains(t, out, "Audit Events (showing 3)")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "kb_search")
	assert.Contains(t, out, "✗ #2")
	assert.Contains(t, out, "| - |")
}

func TestRenderVerifyResult(t *testing.T) {
	var bufOK, bufBroken bytes.Buffer
	renderVerifyResult(&bufOK, 1, ledger.VerifyResult{OK: true, Checked: 12})
	renderVerifyResult(&bufBroken, 2, ledger.VerifyResult{OK: false, Checked: 4, BrokenID: 5, Reason: "this_hash mismatch"})

	assert.Contains(t, bufOK.String(), "VALID")
	assert.Contains(t, bufOK.String(), "12 event(s)")
	assert.Contains(t, bufBroken.String(), "BROKEN at event 5")
	assert.Contains(t, bufBroken.String(), "this_hash mismatch")
}
