package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatekeep-io/gatekeep/internal/approval"
	"github.com/gatekeep-io/gatekeep/internal/ledger"
	"github.com/gatekeep-io/gatekeep/internal/otel"
	"github.com/gatekeep-io/gatekeep/internal/rbac"
	"github.com/gatekeep-io/gatekeep/internal/redact"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
)

// ErrNotAdmin is returned when a non-admin role tries to decide or execute
// an approval.
var ErrNotAdmin = fmt.Errorf("admin role required")

// DecideApproval settles a proposed approval. Only admin roles may decide;
// the decision is audited under the decider's identity.
func (e *Engine) DecideApproval(ctx context.Context, decider requestctx.Identity, id int64, approve bool, notes string) (approval.Approval, error) {
	if !rbac.CanDecideApprovals(e.policy, decider.Role) {
		return approval.Approval{}, ErrNotAdmin
	}

	a, err := e.approvals.Get(ctx, id)
	if err != nil {
		return approval.Approval{}, err
	}
	if a.ProjectID != decider.ProjectID {
		return approval.Approval{}, approval.ErrNotFound
	}

	status := approval.StatusDenied
	if approve {
		status = approval.StatusApproved
	}
	if notes == "" {
		notes = status
	}
	if err := e.approvals.Decide(ctx, id, status, decider.Username, notes); err != nil {
		return approval.Approval{}, err
	}

	e.appendEvent(ctx, ledger.Entry{
		ProjectID: decider.ProjectID, Username: decider.Username, Role: decider.Role,
		EventType: ledger.EventApprovalDecide, ToolName: a.ToolName,
		Request: a.ArgsJSON, Result: redact.SafeJSON(map[string]any{"status": status}),
		Outcome: ledger.OutcomeOK,
	})
	return e.approvals.Get(ctx, id)
}

// ExecuteApproval runs an approved request. The arguments are re-validated
// and the handler runs with the ORIGINAL requester's identity, not the
// executing admin's; the audit entry carries the executor. A failed
// execution is audited but leaves the approval approved so it can be
// retried.
func (e *Engine) ExecuteApproval(ctx context.Context, executor requestctx.Identity, id int64) (map[string]any, error) {
	ctx, span := otel.Tracer("engine").Start(ctx, "engine.ExecuteApproval")
	defer span.End()

	if !rbac.CanDecideApprovals(e.policy, executor.Role) {
		return nil, ErrNotAdmin
	}

	a, err := e.approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ProjectID != executor.ProjectID {
		return nil, approval.ErrNotFound
	}
	if a.Status != approval.StatusApproved {
		return nil, approval.ErrWrongState
	}
	if _, ok := e.registry.Spec(a.ToolName); !ok {
		return nil, fmt.Errorf("tool %s is no longer available", a.ToolName)
	}
	if !rbac.CanUseTool(e.policy, executor.Role, a.ToolName) {
		return nil, fmt.Errorf("role %s cannot execute tool %s", executor.Role, a.ToolName)
	}

	args, err := e.registry.Validate(a.ToolName, json.RawMessage(a.ArgsJSON))
	if err != nil {
		e.logExecFailure(ctx, executor, a, err)
		return nil, err
	}

	requester := requestctx.Identity{
		Username:  a.RequestedBy,
		Role:      a.RequestedRole,
		ProjectID: a.ProjectID,
	}
	result, err := e.registry.Execute(ctx, a.ToolName, args, e.env, requester)
	if err != nil {
		e.logExecFailure(ctx, executor, a, err)
		e.count(ctx, CounterToolErrors)
		return nil, err
	}

	e.appendEvent(ctx, ledger.Entry{
		ProjectID: executor.ProjectID, Username: executor.Username, Role: executor.Role,
		EventType: ledger.EventApprovedToolExec, ToolName: a.ToolName,
		Request: a.ArgsJSON, Result: redact.SafeJSON(result), Outcome: ledger.OutcomeOK,
	})
	e.count(ctx, CounterToolCalls)

	if err := e.approvals.MarkExecuted(ctx, id, executor.Username); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) logExecFailure(ctx context.Context, executor requestctx.Identity, a approval.Approval, err error) {
	e.appendEvent(ctx, ledger.Entry{
		ProjectID: executor.ProjectID, Username: executor.Username, Role: executor.Role,
		EventType: ledger.EventApprovedToolExec, ToolName: a.ToolName,
		Request: a.ArgsJSON, Outcome: ledger.OutcomeFail,
		Notes: redact.Clamp(err.Error(), 200),
	})
}
