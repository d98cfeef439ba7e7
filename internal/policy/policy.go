// Package policy loads and validates the Gatekeep governance policy
// document: per-tool risk rules, role permissions, privacy defaults, RAG
// defaults, and the webhook host allowlist.
//
// The loaded Policy is an immutable snapshot. It is passed by pointer to
// every component that needs it, and no component mutates it after load.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Risk tiers a tool may be assigned.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Wildcard in a role's permission set grants every tool.
const Wildcard = "*"

// Policy represents a complete gatekeep.policy.yaml document.
type Policy struct {
	Tools   map[string]ToolRule `yaml:"tools,omitempty"`
	RBAC    RBACConfig          `yaml:"rbac"`
	Privacy PrivacyConfig       `yaml:"privacy"`
	RAG     RAGConfig           `yaml:"rag"`
	Webhook WebhookConfig       `yaml:"webhook,omitempty"`

	// Computed at load time (not serialized).
	Hash       string `yaml:"-"`
	VersionTag string `yaml:"-"`
	LoadedAt   time.Time `yaml:"-"`
}

// ToolRule overrides a registered tool's compiled-in risk tier and approval
// requirement. A rule present for a tool name wins over the registration
// default.
type ToolRule struct {
	Risk             string `yaml:"risk,omitempty"`
	RequiresApproval *bool  `yaml:"requires_approval,omitempty"`
}

// RBACConfig maps roles to permitted tool names ("*" = all tools) and names
// the roles allowed to decide approvals.
type RBACConfig struct {
	RolePermissions map[string][]string `yaml:"role_permissions"`
	AdminRoles      []string            `yaml:"admin_roles,omitempty"`
}

// PrivacyConfig holds redaction and minimization defaults.
type PrivacyConfig struct {
	RedactPIIBeforePlanning bool `yaml:"redact_pii_before_planning"`
	DataMinimizationDefault bool `yaml:"data_minimization_default"`
	MaxPlannerInputChars    int  `yaml:"max_planner_input_chars,omitempty"`
	ExternalPlannerDefault  bool `yaml:"enable_external_planner_default"`
}

// RAGConfig holds retrieval and context-firewall defaults.
type RAGConfig struct {
	CiteOnlyDefault            bool     `yaml:"cite_only_default"`
	TrustedOnlyDefault         bool     `yaml:"trusted_only_default"`
	MaxContextChars            int      `yaml:"max_context_chars,omitempty"`
	BlockedInstructionPatterns []string `yaml:"blocked_instruction_patterns,omitempty"`
}

// WebhookConfig restricts outbound webhook targets. An empty allowlist
// rejects every host at execution time.
type WebhookConfig struct {
	AllowlistHosts []string `yaml:"allowlist_hosts,omitempty"`
}

const (
	DefaultMaxPlannerInputChars = 1200
	DefaultMaxContextChars      = 2000
)

// ToolRuleFor returns the override rule for the named tool, if any.
func (p *Policy) ToolRuleFor(name string) (ToolRule, bool) {
	rule, ok := p.Tools[name]
	return rule, ok
}

// RolePermissions returns the permission set for a role (nil when unknown).
func (p *Policy) RolePermissions(role string) []string {
	return p.RBAC.RolePermissions[role]
}

// IsAdminRole reports whether the role may decide approval requests.
func (p *Policy) IsAdminRole(role string) bool {
	for _, r := range p.RBAC.AdminRoles {
		if r == role {
			return true
		}
	}
	return false
}

// MaxPlannerInputChars returns the configured planner input cap, falling
// back to the default when unset.
func (p *Policy) MaxPlannerInputChars() int {
	if p.Privacy.MaxPlannerInputChars > 0 {
		return p.Privacy.MaxPlannerInputChars
	}
	return DefaultMaxPlannerInputChars
}

// MaxContextChars returns the retrieved-context character budget, falling
// back to the default when unset.
func (p *Policy) MaxContextChars() int {
	if p.RAG.MaxContextChars > 0 {
		return p.RAG.MaxContextChars
	}
	return DefaultMaxContextChars
}

// WebhookHostAllowed reports whether host may receive webhook posts.
// An empty allowlist allows nothing.
func (p *Policy) WebhookHostAllowed(host string) bool {
	for _, h := range p.Webhook.AllowlistHosts {
		if h == host {
			return true
		}
	}
	return false
}

// computeHash sets the SHA-256 content hash and the short version tag used
// in audit notes and the status endpoint.
func (p *Policy) computeHash(content []byte) {
	sum := sha256.Sum256(content)
	p.Hash = hex.EncodeToString(sum[:])
	p.VersionTag = fmt.Sprintf("sha256:%s", p.Hash[:8])
}
