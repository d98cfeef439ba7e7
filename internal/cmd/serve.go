package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gatekeep-io/gatekeep/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Gatekeep HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config, e.g. :8787)")
	rootCmd.AddCommand(serveCmd)
}

// bootstrapAdmin seeds the first admin account when the user table is empty.
// The password comes from GATEKEEP_ADMIN_PASSWORD; without it a fresh install
// has no credentials and every API endpoint returns 401.
func bootstrapAdmin(ctx context.Context, s *stack) error {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return nil
	}

	password := os.Getenv("GATEKEEP_ADMIN_PASSWORD")
	if password == "" {
		log.Warn().Msg("no users exist and GATEKEEP_ADMIN_PASSWORD is not set — all API endpoints will return 401. Set it or run 'gatekeep user add'.")
		return nil
	}

	role := adminBootstrapRole(s)
	if role == "" {
		return fmt.Errorf("policy defines no admin_roles; cannot bootstrap an admin user")
	}
	if err := s.store.UpsertUser(ctx, "root", password, role); err != nil {
		return fmt.Errorf("creating bootstrap admin: %w", err)
	}
	if _, err := s.store.EnsureDefaultProject(ctx, "root"); err != nil {
		return fmt.Errorf("creating default project: %w", err)
	}
	log.Info().Str("username", "root").Str("role", role).Msg("bootstrap admin created")
	return nil
}

func adminBootstrapRole(s *stack) string {
	for _, r := range s.policy.RBAC.AdminRoles {
		if _, ok := s.policy.RBAC.RolePermissions[r]; ok {
			return r
		}
	}
	if len(s.policy.RBAC.AdminRoles) > 0 {
		return s.policy.RBAC.AdminRoles[0]
	}
	return ""
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := bootstrapAdmin(ctx, st); err != nil {
		return err
	}

	srv := server.NewServer(
		st.engine,
		st.store,
		st.ledger,
		st.approvals,
		st.registry,
		st.env,
		st.policy,
		server.WithRetentionDays(st.cfg.RetentionDays),
	)

	addr := serveAddr
	if addr == "" {
		addr = st.cfg.ListenAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("policy_version", st.policy.VersionTag).
		Bool("external_planner", st.cfg.PlannerConfigured()).
		Msg("gatekeep_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
