package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/approval"
)

var (
	approvalsProject int64
	approvalsStatus  string
	approvalsUser    string
	approvalsNotes   string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review and decide pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests for a project",
	RunE:  approvalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve [id]",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalsDecide(cmd, args, true)
	},
}

var approvalsDenyCmd = &cobra.Command{
	Use:   "deny [id]",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalsDecide(cmd, args, false)
	},
}

var approvalsExecuteCmd = &cobra.Command{
	Use:   "execute [id]",
	Short: "Execute an approved request with the requester's identity",
	Args:  cobra.ExactArgs(1),
	RunE:  approvalsExecute,
}

func init() {
	approvalsCmd.PersistentFlags().Int64Var(&approvalsProject, "project", 1, "project ID")
	approvalsCmd.PersistentFlags().StringVar(&approvalsUser, "user", "", "acting username (required for approve/deny/execute)")
	approvalsListCmd.Flags().StringVar(&approvalsStatus, "status", "", "filter by status (proposed, approved, denied, executed)")
	approvalsApproveCmd.Flags().StringVar(&approvalsNotes, "notes", "", "decision notes")
	approvalsDenyCmd.Flags().StringVar(&approvalsNotes, "notes", "", "decision notes")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsDenyCmd)
	approvalsCmd.AddCommand(approvalsExecuteCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func parseApprovalID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid approval ID %q", arg)
	}
	return id, nil
}

func approvalsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	items, err := st.approvals.List(ctx, approvalsProject, approvalsStatus)
	if err != nil {
		return fmt.Errorf("listing approvals: %w", err)
	}
	if len(items) == 0 {
		fmt.Println("No approval requests found.")
		return nil
	}
	renderApprovalsList(os.Stdout, items)
	return nil
}

func approvalsDecide(cmd *cobra.Command, args []string, approve bool) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	id, err := parseApprovalID(args[0])
	if err != nil {
		return err
	}
	if approvalsUser == "" {
		return fmt.Errorf("--user is required")
	}

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := resolveIdentity(ctx, st, approvalsUser, approvalsProject)
	if err != nil {
		return err
	}

	a, err := st.engine.DecideApproval(ctx, ident, id, approve, approvalsNotes)
	if err != nil {
		return fmt.Errorf("deciding approval: %w", err)
	}
	fmt.Printf("✓ Approval #%d is now %s (tool %s, requested by %s).\n", a.ID, a.Status, a.ToolName, a.RequestedBy)
	return nil
}

func approvalsExecute(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	id, err := parseApprovalID(args[0])
	if err != nil {
		return err
	}
	if approvalsUser == "" {
		return fmt.Errorf("--user is required")
	}

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := resolveIdentity(ctx, st, approvalsUser, approvalsProject)
	if err != nil {
		return err
	}

	result, err := st.engine.ExecuteApproval(ctx, ident, id)
	if err != nil {
		return fmt.Errorf("executing approval: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("✓ Approval #%d executed:\n%s\n", id, out)
	return nil
}

// renderApprovalsList writes approval lines to w (testable).
func renderApprovalsList(w io.Writer, items []approval.Approval) {
	fmt.Fprintf(w, "Approval Requests (showing %d):\n\n", len(items))
	for i := range items {
		a := &items[i]
		fmt.Fprintf(w, "  #%d | %s | %s | requested by %s (%s) | %s\n",
			a.ID,
			a.Status,
			a.ToolName,
			a.RequestedBy,
			a.RequestedRole,
			time.Unix(a.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05"),
		)
	}
}
