// Package tools defines the typed tool registry: the specs the planner may
// select from, per-tool argument validation, and the handlers that execute
// validated calls.
//
// Validation and execution are separate steps so the engine can validate a
// high-risk call, park it as a pending approval, and execute the same
// validated arguments later.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/store"
)

// Tool names the registry ships with.
const (
	NameKBSearch         = "kb_search"
	NameSummarizeText    = "summarize_text"
	NameCreateTodo       = "create_todo"
	NameListTodos        = "list_todos"
	NameDraftEmail       = "draft_email"
	NameGitHubRepoSearch = "github_repo_search"
	NameWebhookPost      = "webhook_post"
)

// Spec describes one registered tool as the planner and the approval flow
// see it.
type Spec struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Risk             string `json:"risk"`
	RequiresApproval bool   `json:"requires_approval"`
	IsExternal       bool   `json:"is_external"`
}

// SchemaError reports arguments that failed validation. The engine logs
// these as blocked calls rather than execution failures.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func schemaErr(tool, format string, args ...any) error {
	return &SchemaError{Tool: tool, Reason: fmt.Sprintf(format, args...)}
}

// ExecError reports a handler that failed after validation passed.
type ExecError struct {
	Tool string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Env carries the dependencies handlers need. The HTTP base URLs exist so
// tests can point external tools at a local server.
type Env struct {
	Store      *store.Store
	Policy     *policy.Policy
	HTTPClient *http.Client
	GitHubBase string
}

// NewEnv builds a handler environment with production defaults.
func NewEnv(s *store.Store, p *policy.Policy) Env {
	return Env{
		Store:      s,
		Policy:     p,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		GitHubBase: "https://api.github.com",
	}
}

type handler func(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error)

type parser func(raw json.RawMessage) (any, error)

type registered struct {
	spec    Spec
	parse   parser
	handler handler
}

// Registry maps tool names to their specs, parsers and handlers. Policy
// overrides for risk and requires_approval are applied at registration, so
// every later read of a spec already reflects the governance policy.
type Registry struct {
	tools map[string]registered
	order []string
}

// NewRegistry builds the registry with the built-in tool set, applying the
// policy's per-tool overrides.
func NewRegistry(p *policy.Policy) *Registry {
	r := &Registry{tools: make(map[string]registered)}
	r.register(p, Spec{
		Name:        NameKBSearch,
		Description: "Search the project knowledge base (lexical retrieval over chunks).",
		Risk:        policy.RiskLow,
	}, parseKBSearch, handleKBSearch)
	r.register(p, Spec{
		Name:        NameSummarizeText,
		Description: "Summarize text deterministically (offline).",
		Risk:        policy.RiskLow,
	}, parseSummarize, handleSummarize)
	r.register(p, Spec{
		Name:        NameCreateTodo,
		Description: "Create a todo item for the current user in the active project.",
		Risk:        policy.RiskLow,
	}, parseCreateTodo, handleCreateTodo)
	r.register(p, Spec{
		Name:        NameListTodos,
		Description: "List todo items for the current user in the active project.",
		Risk:        policy.RiskLow,
	}, parseListTodos, handleListTodos)
	r.register(p, Spec{
		Name:        NameDraftEmail,
		Description: "Draft an email (does not send).",
		Risk:        policy.RiskMedium,
	}, parseDraftEmail, handleDraftEmail)
	r.register(p, Spec{
		Name:        NameGitHubRepoSearch,
		Description: "Search public GitHub repositories (read-only).",
		Risk:        policy.RiskLow,
		IsExternal:  true,
	}, parseGitHubSearch, handleGitHubSearch)
	r.register(p, Spec{
		Name:             NameWebhookPost,
		Description:      "POST JSON to an allowlisted webhook URL (high-risk; requires approval).",
		Risk:             policy.RiskHigh,
		RequiresApproval: true,
		IsExternal:       true,
	}, parseWebhookPost, handleWebhookPost)
	return r
}

func (r *Registry) register(p *policy.Policy, spec Spec, parse parser, h handler) {
	if rule, ok := p.ToolRuleFor(spec.Name); ok {
		if rule.Risk != "" {
			spec.Risk = rule.Risk
		}
		if rule.RequiresApproval != nil {
			spec.RequiresApproval = *rule.RequiresApproval
		}
	}
	r.tools[spec.Name] = registered{spec: spec, parse: parse, handler: h}
	r.order = append(r.order, spec.Name)
}

// Spec returns the registered spec for name.
func (r *Registry) Spec(name string) (Spec, bool) {
	reg, ok := r.tools[name]
	return reg.spec, ok
}

// Specs lists every registered spec in registration order.
func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].spec)
	}
	return out
}

// Validate parses and bounds-checks raw JSON arguments for the tool. The
// returned value is the tool's typed argument struct, ready for Execute.
func (r *Registry) Validate(name string, raw json.RawMessage) (any, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, schemaErr(name, "unknown tool")
	}
	return reg.parse(raw)
}

// Execute runs the tool with already-validated arguments. Handler failures
// come back as *ExecError.
func (r *Registry) Execute(ctx context.Context, name string, args any, env Env, ident requestctx.Identity) (map[string]any, error) {
	reg, ok := r.tools[name]
	if !ok {
		return nil, schemaErr(name, "unknown tool")
	}
	out, err := reg.handler(ctx, env, ident, args)
	if err != nil {
		return nil, &ExecError{Tool: name, Err: err}
	}
	return out, nil
}
