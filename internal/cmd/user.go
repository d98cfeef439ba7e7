package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	userRole     string
	userPassword string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Create or update a user",
	Long: `Creates a user with the given role and password, or replaces the role
and password of an existing user. The role must be defined in the policy's
role_permissions. The user is added to the default project.`,
	Args: cobra.ExactArgs(1),
	RunE: userAdd,
}

func init() {
	userAddCmd.Flags().StringVar(&userRole, "role", "", "role as defined in the policy (required)")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "password (required)")
	_ = userAddCmd.MarkFlagRequired("role")
	_ = userAddCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

func userAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	username := args[0]
	if _, ok := st.policy.RBAC.RolePermissions[userRole]; !ok {
		return fmt.Errorf("role %q is not defined in the policy (known: %s)", userRole, knownRoles(st))
	}

	if err := st.store.UpsertUser(ctx, username, userPassword, userRole); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	if _, err := st.store.EnsureDefaultProject(ctx, username); err != nil {
		return fmt.Errorf("adding to default project: %w", err)
	}

	log.Info().Str("username", username).Str("role", userRole).Msg("user saved")
	fmt.Printf("✓ User %s saved with role %s.\n", username, userRole)
	return nil
}

func knownRoles(st *stack) string {
	roles := make([]string, 0, len(st.policy.RBAC.RolePermissions))
	for r := range st.policy.RBAC.RolePermissions {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return strings.Join(roles, ", ")
}
