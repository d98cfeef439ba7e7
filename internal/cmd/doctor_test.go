package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatekeep-io/gatekeep/internal/doctor"
)

func TestDoctorCmd_Flags(t *testing.T) {
	assert.NotNil(t, doctorCmd.Flags().Lookup("json"))
	assert.NotNil(t, doctorCmd.Flags().Lookup("skip-upstream"))
}

func TestRenderDoctorReport(t *testing.T) {
	var buf bytes.Buffer
	renderDoctorReport(&buf, &doctor.Report{
		Status: "warn",
		Checks: []doctor.CheckResult{
			{Name: "data_dir_writable", Category: "config", Status: "pass", Message: "/tmp/gk (writable)"},
			{Name: "policy_valid", Category: "policy", Status: "pass", Message: "policy.yaml (sha256:abcd1234)"},
			{Name: "webhook_allowlist", Category: "policy", Status: "warn", Message: "Allowlist is empty", Fix: "Add hosts"},
		},
		Summary: doctor.Summary{Pass: 2, Warn: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "config:")
	assert.Contains(t, out, "policy:")
	assert.Contains(t, out, "✓ data_dir_writable")
	assert.Contains(t, out, "! webhook_allowlist")
	assert.Contains(t, out, "fix: Add hosts")
	assert.Contains(t, out, "2 pass, 1 warn, 0 fail — warn")
}
