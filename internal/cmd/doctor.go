package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/doctor"
)

var (
	doctorJSON         bool
	doctorSkipUpstream bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, policy, database, and planner health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "doctor")
		defer span.End()

		report := doctor.Run(ctx, doctor.Options{SkipUpstream: doctorSkipUpstream})

		if doctorJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			renderDoctorReport(os.Stdout, report)
		}

		if report.Status == "fail" {
			return fmt.Errorf("%d check(s) failed", report.Summary.Fail)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print the report as JSON")
	doctorCmd.Flags().BoolVar(&doctorSkipUpstream, "skip-upstream", false, "skip planner connectivity checks")
	rootCmd.AddCommand(doctorCmd)
}

// renderDoctorReport writes the report to w (testable).
func renderDoctorReport(w io.Writer, report *doctor.Report) {
	marks := map[string]string{"pass": "✓", "warn": "!", "fail": "✗"}
	category := ""
	for _, c := range report.Checks {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(w, "\n%s:\n", category)
		}
		fmt.Fprintf(w, "  %s %s — %s\n", marks[c.Status], c.Name, c.Message)
		if c.Fix != "" {
			fmt.Fprintf(w, "      fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintf(w, "\n%d pass, %d warn, %d fail — %s\n",
		report.Summary.Pass, report.Summary.Warn, report.Summary.Fail, report.Status)
}
