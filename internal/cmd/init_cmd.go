package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/config"
	"github.com/gatekeep-io/gatekeep/internal/policy"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter governance policy",
	Long:  "Creates gatekeep.policy.yaml with sensible defaults: three roles, per-tool risk rules, privacy and RAG settings, and an empty webhook allowlist.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "init")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		path := cfg.PolicyPath()
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := os.WriteFile(path, policy.Starter(), 0o600); err != nil {
			return fmt.Errorf("writing policy: %w", err)
		}

		log.Info().Str("path", path).Msg("starter policy written")
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Policy written: %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "  Edit the webhook allowlist before enabling webhook_post.")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing policy file")
	rootCmd.AddCommand(initCmd)
}
