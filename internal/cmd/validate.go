package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/config"
	"github.com/gatekeep-io/gatekeep/internal/policy"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the governance policy",
	Long:  "Parses the policy document, checks risk tiers and role definitions, and compiles the context-firewall patterns.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctx, span := tracer.Start(ctx, "validate")
		defer span.End()

		file := validateFile
		if file == "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			file = cfg.PolicyPath()
		}

		pol, err := policy.Load(ctx, file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("policy validation failed")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", file)
			return fmt.Errorf("validation failed: %w", err)
		}

		log.Info().
			Str("file", file).
			Str("version", pol.VersionTag).
			Msg("policy validated successfully")

		fmt.Printf("✓ Policy valid: %s\n", file)
		fmt.Printf("  Version: %s\n", pol.VersionTag)
		fmt.Printf("  Roles: %d, tool rules: %d, firewall patterns: %d\n",
			len(pol.RBAC.RolePermissions), len(pol.Tools), len(pol.RAG.BlockedInstructionPatterns))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "policy file to validate (default: the configured policy path)")
}
