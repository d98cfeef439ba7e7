package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/engine"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
)

var (
	turnUser    string
	turnProject int64
	turnJSON    bool
)

var turnCmd = &cobra.Command{
	Use:   "turn [message]",
	Short: "Run one governed turn from the command line",
	Long: `Runs a single user message through the full pipeline (redaction,
retrieval, planning, RBAC, approval gating, audit) without the HTTP server.
The acting user must already exist; create one with 'gatekeep user add'.`,
	Args: cobra.ExactArgs(1),
	RunE: runTurn,
}

func init() {
	turnCmd.Flags().StringVar(&turnUser, "user", "", "acting username (required)")
	turnCmd.Flags().Int64Var(&turnProject, "project", 0, "project ID (default: the user's default project)")
	turnCmd.Flags().BoolVar(&turnJSON, "json", false, "print the full turn response as JSON")
	_ = turnCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(turnCmd)
}

func runTurn(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := resolveIdentity(ctx, st, turnUser, turnProject)
	if err != nil {
		return err
	}

	resp, err := st.engine.Turn(ctx, ident, engine.TurnRequest{Message: args[0]})
	if err != nil {
		return fmt.Errorf("running turn: %w", err)
	}

	if turnJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	renderTurn(cmd.OutOrStdout(), resp)
	return nil
}

// resolveIdentity looks up the acting user and scopes them to a project,
// creating the default project on first use when none is given.
func resolveIdentity(ctx context.Context, st *stack, username string, projectID int64) (requestctx.Identity, error) {
	user, err := st.store.GetUser(ctx, username)
	if err != nil {
		return requestctx.Identity{}, fmt.Errorf("unknown user %q: %w", username, err)
	}
	if projectID == 0 {
		projectID, err = st.store.EnsureDefaultProject(ctx, username)
		if err != nil {
			return requestctx.Identity{}, fmt.Errorf("resolving default project: %w", err)
		}
	} else {
		ok, err := st.store.IsMember(ctx, username, projectID)
		if err != nil {
			return requestctx.Identity{}, err
		}
		if !ok {
			return requestctx.Identity{}, fmt.Errorf("user %q is not a member of project %d", username, projectID)
		}
	}
	return requestctx.Identity{Username: user.Username, Role: user.Role, ProjectID: projectID}, nil
}

// renderTurn writes a compact human-readable summary to w (testable).
func renderTurn(w io.Writer, resp engine.TurnResponse) {
	fmt.Fprintln(w, resp.Answer)
	fmt.Fprintf(w, "\n  mode: %s", resp.PlanMeta.Mode)
	if resp.PlanMeta.Degraded {
		fmt.Fprint(w, " (degraded)")
	}
	fmt.Fprintln(w)
	if resp.ToolTrace != nil {
		fmt.Fprintf(w, "  tool: %s (%s, %dms)\n", resp.ToolTrace.Tool, resp.ToolTrace.Risk, resp.ToolTrace.LatencyMS)
	}
	if resp.ApprovalID != 0 {
		fmt.Fprintf(w, "  approval: #%d pending\n", resp.ApprovalID)
	}
	if resp.Blocked {
		fmt.Fprintln(w, "  blocked: yes")
	}
	if len(resp.Retrieved) > 0 {
		fmt.Fprintf(w, "  retrieved: %d chunk(s)", len(resp.Retrieved))
		if n := len(resp.RemovedLines); n > 0 {
			fmt.Fprintf(w, ", %d line(s) removed by firewall", n)
		}
		fmt.Fprintln(w)
	}
}
