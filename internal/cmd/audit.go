package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/ledger"
)

var (
	auditProject   int64
	auditLimit     int
	auditRetention int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and maintain the hash-chained audit ledger",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit events for a project",
	RunE:  auditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain for a project",
	RunE:  auditVerify,
}

var auditPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete audit events older than the retention window",
	RunE:  auditPurge,
}

func init() {
	auditCmd.PersistentFlags().Int64Var(&auditProject, "project", 1, "project ID")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "maximum events to show")
	auditPurgeCmd.Flags().IntVar(&auditRetention, "retention-days", 0, "retention window in days (default: the configured audit_retention_days)")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPurgeCmd)
	rootCmd.AddCommand(auditCmd)
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ledger.List(ctx, auditProject, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit events: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}
	renderAuditList(os.Stdout, events)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := st.ledger.Verify(ctx, auditProject)
	if err != nil {
		return fmt.Errorf("verifying ledger: %w", err)
	}
	renderVerifyResult(os.Stdout, auditProject, result)
	if !result.OK {
		return fmt.Errorf("hash chain broken at event %d: %s", result.BrokenID, result.Reason)
	}
	return nil
}

func auditPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	days := auditRetention
	if days == 0 {
		days = st.cfg.RetentionDays
	}
	deleted, err := st.ledger.Purge(ctx, auditProject, days)
	if err != nil {
		return fmt.Errorf("purging ledger: %w", err)
	}
	fmt.Printf("Deleted %d event(s) older than %d day(s) from project %d.\n", deleted, days, auditProject)
	return nil
}

// renderAuditList writes event lines to w (testable).
func renderAuditList(w io.Writer, events []ledger.Event) {
	fmt.Fprintf(w, "Audit Events (showing %d):\n\n", len(events))
	for i := range events {
		e := &events[i]
		mark := "✓"
		if e.Outcome != ledger.OutcomeOK {
			mark = "✗"
		}
		tool := e.ToolName
		if tool == "" {
			tool = "-"
		}
		fmt.Fprintf(w, "  %s #%d | %s | %s (%s) | %s | %s | %s\n",
			mark,
			e.ID,
			time.Unix(e.TS, 0).UTC().Format("2006-01-02 15:04:05"),
			e.Username,
			e.Role,
			e.EventType,
			tool,
			e.Outcome,
		)
	}
}

// renderVerifyResult writes verify outcome to w (testable).
func renderVerifyResult(w io.Writer, projectID int64, result ledger.VerifyResult) {
	if result.OK {
		fmt.Fprintf(w, "✓ Project %d: chain VALID (%d event(s) checked)\n", projectID, result.Checked)
	} else {
		fmt.Fprintf(w, "✗ Project %d: chain BROKEN at event %d (%s) after %d event(s)\n",
			projectID, result.BrokenID, result.Reason, result.Checked)
	}
}
