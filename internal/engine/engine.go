// Package engine orchestrates one governed turn: redaction, conditional
// retrieval, the context firewall, planning, the RBAC gate, argument
// validation, approval routing, tool execution, and the audit trail. It
// also drives the approval decide/execute lifecycle for the server and CLI.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gatekeep-io/gatekeep/internal/approval"
	"github.com/gatekeep-io/gatekeep/internal/firewall"
	"github.com/gatekeep-io/gatekeep/internal/ledger"
	"github.com/gatekeep-io/gatekeep/internal/otel"
	"github.com/gatekeep-io/gatekeep/internal/planner"
	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/redact"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/retrieval"
	"github.com/gatekeep-io/gatekeep/internal/store"
	"github.com/gatekeep-io/gatekeep/internal/tools"
)

// Counter keys the engine maintains.
const (
	CounterChatMessages     = "chat_messages_total"
	CounterToolCalls        = "tool_calls_total"
	CounterToolBlocked      = "tool_blocked_total"
	CounterToolErrors       = "tool_errors_total"
	CounterApprovalsCreated = "approvals_created_total"
)

// retrievalTriggers are the keywords that make a turn fetch evidence before
// planning.
var retrievalTriggers = []string{"kb", "knowledge", "search", "find", "lookup", "evidence"}

// Engine wires every governed component behind a single Turn entry point.
type Engine struct {
	store     *store.Store
	ledger    *ledger.Ledger
	approvals *approval.Service
	registry  *tools.Registry
	env       tools.Env
	planner   *planner.Planner
	policy    *policy.Policy
	firewall  *firewall.Firewall
}

// New assembles an engine. The firewall is compiled from the policy's
// blocked-instruction patterns; the loader has already validated them.
func New(s *store.Store, l *ledger.Ledger, a *approval.Service, reg *tools.Registry,
	env tools.Env, p *planner.Planner, pol *policy.Policy) (*Engine, error) {
	fw, err := firewall.New(pol.RAG.BlockedInstructionPatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling firewall: %w", err)
	}
	return &Engine{
		store:     s,
		ledger:    l,
		approvals: a,
		registry:  reg,
		env:       env,
		planner:   p,
		policy:    pol,
		firewall:  fw,
	}, nil
}

// TurnOptions override the policy defaults for a single turn. Nil means
// "use the policy default".
type TurnOptions struct {
	DataMinimization *bool `json:"data_minimization,omitempty"`
	CiteOnly         *bool `json:"cite_only,omitempty"`
	TrustedOnly      *bool `json:"trusted_only,omitempty"`
}

// TurnRequest is one user message.
type TurnRequest struct {
	Message string      `json:"message"`
	Options TurnOptions `json:"options"`
}

// ToolTrace records an executed tool call for the turn's explainability
// block.
type ToolTrace struct {
	Tool      string          `json:"tool"`
	Risk      string          `json:"risk"`
	Args      json.RawMessage `json:"args"`
	Result    map[string]any  `json:"result"`
	LatencyMS int64           `json:"latency_ms"`
}

// TurnResponse is everything a turn produced, including the trace material
// the audit trail references.
type TurnResponse struct {
	Answer       string             `json:"answer"`
	Plan         planner.Plan       `json:"plan"`
	PlanMeta     planner.Meta       `json:"plan_meta"`
	Retrieved    []retrieval.Result `json:"retrieved,omitempty"`
	RemovedLines []string           `json:"removed_lines,omitempty"`
	ToolTrace    *ToolTrace         `json:"tool_trace,omitempty"`
	ApprovalID   int64              `json:"approval_id,omitempty"`
	Blocked      bool               `json:"blocked,omitempty"`
}

func resolve(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

func (e *Engine) count(ctx context.Context, key string) {
	if err := e.store.IncrCounter(ctx, key, 1); err != nil {
		log.Warn().Err(err).Str("counter", key).Msg("counter update failed")
	}
}

// Turn runs one user message through the full pipeline. It returns an error
// only for infrastructure failures; governance outcomes (blocked, pending
// approval, degraded planning) are reported in the response.
func (e *Engine) Turn(ctx context.Context, ident requestctx.Identity, req TurnRequest) (TurnResponse, error) {
	ctx, span := otel.Tracer("engine").Start(ctx, "engine.Turn")
	defer span.End()

	cleaned := req.Message
	if e.policy.Privacy.RedactPIIBeforePlanning {
		cleaned = redact.PII(cleaned)
	}
	e.count(ctx, CounterChatMessages)

	trustedOnly := resolve(req.Options.TrustedOnly, e.policy.RAG.TrustedOnlyDefault)
	retrieved, err := e.retrieve(ctx, ident, cleaned, trustedOnly)
	if err != nil {
		return TurnResponse{}, err
	}

	retrievedContext, removedLines := e.buildContext(retrieved)

	result := e.planner.Plan(ctx, planner.Request{
		UserText:         cleaned,
		Tools:            e.toolSummaries(),
		RetrievedContext: retrievedContext,
		CiteOnly:         resolve(req.Options.CiteOnly, e.policy.RAG.CiteOnlyDefault),
		DataMinimization: resolve(req.Options.DataMinimization, e.policy.Privacy.DataMinimizationDefault),
		MaxInputChars:    e.policy.MaxPlannerInputChars(),
		MaxContextChars:  e.policy.MaxContextChars(),
	})

	e.logPlan(ctx, ident, cleaned, len(retrieved), result, removedLines)

	resp := TurnResponse{
		Plan:         result.Plan,
		PlanMeta:     result.Meta,
		Retrieved:    retrieved,
		RemovedLines: removedLines,
	}

	if result.Plan.Action != planner.ActionTool {
		resp.Answer = result.Plan.FinalAnswer
		if resp.Answer == "" {
			resp.Answer = "I'm not sure, please rephrase."
		}
		return resp, nil
	}

	e.runTool(ctx, ident, result.Plan, &resp)
	return resp, nil
}

// retrieve runs kb_search ahead of planning when the message looks like an
// evidence question. It reuses the registered tool so retrieval obeys the
// same bounds as an explicit kb_search call.
func (e *Engine) retrieve(ctx context.Context, ident requestctx.Identity, cleaned string, trustedOnly bool) ([]retrieval.Result, error) {
	low := strings.ToLower(cleaned)
	triggered := false
	for _, k := range retrievalTriggers {
		if strings.Contains(low, k) {
			triggered = true
			break
		}
	}
	if !triggered {
		return nil, nil
	}

	raw, err := json.Marshal(map[string]any{
		"query":        clipQuery(cleaned),
		"top_k":        5,
		"trusted_only": trustedOnly,
	})
	if err != nil {
		return nil, err
	}
	args, err := e.registry.Validate(tools.NameKBSearch, raw)
	if err != nil {
		return nil, fmt.Errorf("building retrieval query: %w", err)
	}
	out, err := e.registry.Execute(ctx, tools.NameKBSearch, args, e.env, ident)
	if err != nil {
		return nil, fmt.Errorf("pre-plan retrieval: %w", err)
	}
	results, _ := out["results"].([]retrieval.Result)
	return results, nil
}

func clipQuery(s string) string {
	if len(s) > 800 {
		return s[:800]
	}
	return s
}

// buildContext renders retrieved chunks as cited lines, runs them through
// the firewall, and clamps to the policy's context budget.
func (e *Engine) buildContext(results []retrieval.Result) (string, []string) {
	if len(results) == 0 {
		return "", nil
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[%s:%d] %s (%s): %s", r.DocID, r.ChunkIndex, r.Title, r.TrustLevel, r.Snippet))
	}
	clean, removed := e.firewall.Filter(strings.Join(lines, "\n"))
	return redact.Clamp(clean, e.policy.MaxContextChars()), removed
}

func (e *Engine) toolSummaries() []planner.ToolSummary {
	specs := e.registry.Specs()
	out := make([]planner.ToolSummary, 0, len(specs))
	for _, s := range specs {
		out = append(out, planner.ToolSummary{
			Name:             s.Name,
			Risk:             s.Risk,
			RequiresApproval: s.RequiresApproval,
		})
	}
	return out
}

func (e *Engine) logPlan(ctx context.Context, ident requestctx.Identity, cleaned string, retrievedCount int, result planner.Result, removed []string) {
	if len(removed) > 5 {
		removed = removed[:5]
	}
	toolName := ""
	if result.Plan.Action == planner.ActionTool {
		toolName = result.Plan.ToolName
	}
	e.appendEvent(ctx, ledger.Entry{
		ProjectID: ident.ProjectID,
		Username:  ident.Username,
		Role:      ident.Role,
		EventType: ledger.EventPlan,
		ToolName:  toolName,
		Request:   redact.SafeJSON(map[string]any{"user_text": cleaned, "retrieved_count": retrievedCount}),
		Result:    redact.SafeJSON(map[string]any{"plan": result.Plan, "meta": result.Meta, "removed_lines": removed}),
		Outcome:   ledger.OutcomeOK,
		Notes:     "mode=" + result.Meta.Mode,
	})
}

func (e *Engine) appendEvent(ctx context.Context, entry ledger.Entry) {
	if _, err := e.ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Func(otel.LogTraceFields(ctx)).Str("event_type", entry.EventType).Msg("audit append failed")
	}
}

// runTool applies the governance gates in order: existence, RBAC, argument
// validation, approval requirement, then execution.
func (e *Engine) runTool(ctx context.Context, ident requestctx.Identity, plan planner.Plan, resp *TurnResponse) {
	spec, ok := e.registry.Spec(plan.ToolName)
	if !ok {
		resp.Answer = "That tool is not available."
		resp.Blocked = true
		e.count(ctx, CounterToolBlocked)
		return
	}

	argsJSON := string(plan.ToolArgs)
	if argsJSON == "" {
		argsJSON = "{}"
	}

	if !rbac.CanUseTool(e.policy, ident.Role, plan.ToolName) {
		resp.Answer = fmt.Sprintf("Blocked by RBAC: role %s cannot use tool %s.", ident.Role, plan.ToolName)
		resp.Blocked = true
		e.appendEvent(ctx, ledger.Entry{
			ProjectID: ident.ProjectID, Username: ident.Username, Role: ident.Role,
			EventType: ledger.EventToolCall, ToolName: plan.ToolName,
			Request: argsJSON, Outcome: ledger.OutcomeBlocked, Notes: "rbac",
		})
		e.count(ctx, CounterToolBlocked)
		return
	}

	args, err := e.registry.Validate(plan.ToolName, plan.ToolArgs)
	if err != nil {
		resp.Answer = fmt.Sprintf("Blocked: invalid tool arguments (%s).", redact.Clamp(err.Error(), 160))
		resp.Blocked = true
		e.appendEvent(ctx, ledger.Entry{
			ProjectID: ident.ProjectID, Username: ident.Username, Role: ident.Role,
			EventType: ledger.EventToolCall, ToolName: plan.ToolName,
			Request: argsJSON, Outcome: ledger.OutcomeBlocked, Notes: "arg_validation",
		})
		e.count(ctx, CounterToolBlocked)
		return
	}

	if spec.RequiresApproval {
		id, err := e.approvals.Create(ctx, ident.ProjectID, ident.Username, ident.Role, plan.ToolName, argsJSON)
		if err != nil {
			log.Error().Err(err).Msg("approval create failed")
			resp.Answer = "Could not create the approval request."
			return
		}
		resp.ApprovalID = id
		resp.Answer = fmt.Sprintf("Approval required for %s (risk: %s). Created approval request #%d.", plan.ToolName, spec.Risk, id)
		e.appendEvent(ctx, ledger.Entry{
			ProjectID: ident.ProjectID, Username: ident.Username, Role: ident.Role,
			EventType: ledger.EventApprovalCreated, ToolName: plan.ToolName,
			Request: argsJSON, Result: redact.SafeJSON(map[string]any{"approval_id": id}),
			Outcome: ledger.OutcomeOK,
		})
		e.count(ctx, CounterApprovalsCreated)
		return
	}

	start := time.Now()
	result, err := e.registry.Execute(ctx, plan.ToolName, args, e.env, ident)
	if err != nil {
		resp.Answer = fmt.Sprintf("Tool %s failed: %s", plan.ToolName, redact.Clamp(err.Error(), 200))
		e.appendEvent(ctx, ledger.Entry{
			ProjectID: ident.ProjectID, Username: ident.Username, Role: ident.Role,
			EventType: ledger.EventToolCall, ToolName: plan.ToolName,
			Request: argsJSON, Outcome: ledger.OutcomeFail,
			Notes: redact.Clamp(err.Error(), 200),
		})
		e.count(ctx, CounterToolErrors)
		return
	}

	resp.ToolTrace = &ToolTrace{
		Tool:      plan.ToolName,
		Risk:      spec.Risk,
		Args:      plan.ToolArgs,
		Result:    result,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	resp.Answer = fmt.Sprintf("Tool %s executed.", plan.ToolName)
	e.appendEvent(ctx, ledger.Entry{
		ProjectID: ident.ProjectID, Username: ident.Username, Role: ident.Role,
		EventType: ledger.EventToolCall, ToolName: plan.ToolName,
		Request: argsJSON, Result: redact.SafeJSON(result), Outcome: ledger.OutcomeOK,
	})
	e.count(ctx, CounterToolCalls)
}
