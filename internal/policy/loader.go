package policy

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	gkotel "github.com/gatekeep-io/gatekeep/internal/otel"
)

var tracer = gkotel.Tracer("github.com/gatekeep-io/gatekeep/internal/policy")

// Load reads and validates a gatekeep.policy.yaml file. The returned Policy
// is a read-only snapshot; reload requires a process restart.
func Load(ctx context.Context, path string) (*Policy, error) {
	_, span := tracer.Start(ctx, "policy.load")
	defer span.End()
	span.SetAttributes(attribute.String("policy.path", path))

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	pol, err := Parse(content)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("policy.version", pol.VersionTag))
	return pol, nil
}

// Parse decodes and validates a policy document from raw YAML.
func Parse(content []byte) (*Policy, error) {
	var pol Policy
	if err := yaml.Unmarshal(content, &pol); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	if err := pol.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	pol.computeHash(content)
	pol.LoadedAt = time.Now().UTC()
	return &pol, nil
}

func (p *Policy) validate() error {
	for name, rule := range p.Tools {
		switch rule.Risk {
		case "", RiskLow, RiskMedium, RiskHigh:
		default:
			return fmt.Errorf("tool %q: unknown risk tier %q", name, rule.Risk)
		}
	}

	if len(p.RBAC.RolePermissions) == 0 {
		return fmt.Errorf("rbac.role_permissions must define at least one role")
	}
	for role := range p.RBAC.RolePermissions {
		if role == "" {
			return fmt.Errorf("rbac.role_permissions contains an empty role name")
		}
	}

	// Blocked-instruction patterns must compile now; a pattern that fails at
	// load time must not become a silent no-op at filter time.
	for _, pat := range p.RAG.BlockedInstructionPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("rag.blocked_instruction_patterns: %q: %w", pat, err)
		}
	}

	if p.Privacy.MaxPlannerInputChars < 0 {
		return fmt.Errorf("privacy.max_planner_input_chars must not be negative")
	}
	if p.RAG.MaxContextChars < 0 {
		return fmt.Errorf("rag.max_context_chars must not be negative")
	}
	return nil
}

// Starter returns a policy document suitable for `gatekeep init`: a
// three-role RBAC table, conservative privacy defaults, a small
// blocked-instruction list, and an empty webhook allowlist.
func Starter() []byte {
	return []byte(`# Gatekeep governance policy
tools:
  webhook_post:
    risk: high
    requires_approval: true
  draft_email:
    risk: medium

rbac:
  role_permissions:
    Admin: ["*"]
    Analyst: ["kb_search", "summarize_text", "create_todo", "list_todos", "draft_email", "github_repo_search"]
    Viewer: []
  admin_roles: ["Admin"]

privacy:
  redact_pii_before_planning: true
  data_minimization_default: true
  max_planner_input_chars: 1200
  enable_external_planner_default: false

rag:
  cite_only_default: false
  trusted_only_default: false
  max_context_chars: 2000
  blocked_instruction_patterns:
    - "(?i)ignore (all |any )?previous instructions"
    - "(?i)disregard (the )?system prompt"
    - "(?i)you are now"
    - "(?i)exfiltrate|send (all )?secrets"

webhook:
  allowlist_hosts: []
`)
}
