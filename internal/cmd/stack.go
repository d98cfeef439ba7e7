package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog/log"

	"github.com/gatekeep-io/gatekeep/internal/approval"
	"github.com/gatekeep-io/gatekeep/internal/config"
	"github.com/gatekeep-io/gatekeep/internal/engine"
	"github.com/gatekeep-io/gatekeep/internal/ledger"
	"github.com/gatekeep-io/gatekeep/internal/planner"
	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/tools"
)

// stack bundles the assembled components every command works with.
type stack struct {
	cfg       *config.Config
	store     *store.Store
	ledger    *ledger.Ledger
	approvals *approval.Service
	registry  *tools.Registry
	env       tools.Env
	engine    *engine.Engine
	policy    *policy.Policy
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store")
	}
}

// buildStack loads config and policy and wires the full engine. Commands
// that only need the database still go through here so the schema is always
// applied consistently.
func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	pol, err := policy.Load(ctx, cfg.PolicyPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("policy file %s not found (run 'gatekeep init' first)", cfg.PolicyPath())
		}
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	lg, err := ledger.New(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}
	appr, err := approval.New(st.DB())
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := tools.NewRegistry(pol)
	env := tools.NewEnv(st, pol)

	var client *planner.Client
	if cfg.PlannerConfigured() {
		client = planner.NewClient(cfg.PlannerBaseURL, cfg.PlannerAPIKey, cfg.PlannerModel)
		log.Info().Str("model", cfg.PlannerModel).Msg("external planner configured")
	} else {
		log.Info().Msg("no external planner configured, planning heuristically")
	}

	eng, err := engine.New(st, lg, appr, registry, env, planner.New(client), pol)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &stack{
		cfg:       cfg,
		store:     st,
		ledger:    lg,
		approvals: appr,
		registry:  registry,
		env:       env,
		engine:    eng,
		policy:    pol,
	}, nil
}
