// Package requestctx provides request-scoped identity values (acting user,
// role, active project) set by server middleware and read by handlers.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	usernameKey = &contextKey{"username"}
	roleKey     = &contextKey{"role"}
	projectKey  = &contextKey{"project"}
)

// Identity is the authenticated principal for a request.
type Identity struct {
	Username  string
	Role      string
	ProjectID int64
}

// SetIdentity stores the principal in the context.
func SetIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, usernameKey, id.Username)
	ctx = context.WithValue(ctx, roleKey, id.Role)
	return context.WithValue(ctx, projectKey, id.ProjectID)
}

// IdentityFrom returns the principal from context. ok is false when no
// middleware has set one.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	username, _ := ctx.Value(usernameKey).(string)
	if username == "" {
		return Identity{}, false
	}
	role, _ := ctx.Value(roleKey).(string)
	project, _ := ctx.Value(projectKey).(int64)
	return Identity{Username: username, Role: role, ProjectID: project}, true
}
