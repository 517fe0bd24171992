package scopex

import "context"

// Role names mirror the resolution workflow: citizens file complaints,
// ward officers work their ward, maintenance teams work assignments,
// administrators see everything.
const (
	RoleCitizen     = "citizen"
	RoleWardOfficer = "ward_officer"
	RoleMaintenance = "maintenance_team"
	RoleAdmin       = "administrator"
)

type contextKey struct{}

// Scope is the actor's visibility restriction. It is derived from verified
// claims, applied after user-supplied filters are parsed, and always wins
// over them.
type Scope struct {
	Role      string
	WardID    string
	SubZoneID string
	Subject   string
}

// CrossWard reports whether the actor may see complaints outside a single ward.
func (s Scope) CrossWard() bool {
	return s.Role == RoleAdmin
}

func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, scope)
}

func FromContext(ctx context.Context) (Scope, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if s, ok := v.(Scope); ok {
			return s, true
		}
	}
	return Scope{}, false
}

func WardIDFromContext(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.WardID
	}
	return ""
}
