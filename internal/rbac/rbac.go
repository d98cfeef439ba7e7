// Package rbac decides whether a role may invoke a tool. The check is a
// literal lookup against the policy's role permission lists; there is no
// inheritance and no pattern matching beyond the single wildcard entry.
package rbac

import (
	"github.com/gatekeep-io/gatekeep/internal/policy"
)

// CanUseTool reports whether the role's permission list covers the tool.
// A list containing the wildcard covers every tool; an unknown role has no
// permissions.
func CanUseTool(p *policy.Policy, role, tool string) bool {
	for _, perm := range p.RolePermissions(role) {
		if perm == policy.Wildcard || perm == tool {
			return true
		}
	}
	return false
}

// CanDecideApprovals reports whether the role may approve or deny pending
// approvals.
func CanDecideApprovals(p *policy.Policy, role string) bool {
	return p.IsAdminRole(role)
}
