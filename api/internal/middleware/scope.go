package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"citizen-grievance-platform/shared/authx"
	"citizen-grievance-platform/shared/httpx"
	"citizen-grievance-platform/shared/scopex"
)

// ScopeMiddleware derives the actor's visibility scope from verified claims
// and stashes it in the context. It runs after auth; requests without a
// recognized role are rejected rather than defaulted to broad visibility.
type ScopeMiddleware struct {
	Skip func(*http.Request) bool
}

func (m ScopeMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		auth, ok := authx.FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
			return
		}

		scope, err := scopeFromAuth(auth)
		if err != nil {
			httpx.WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", err.Error(), nil)
			return
		}

		ctx := scopex.WithScope(r.Context(), scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func scopeFromAuth(auth authx.AuthContext) (scopex.Scope, error) {
	role := ""
	for _, candidate := range auth.Roles {
		switch strings.ToLower(strings.TrimSpace(candidate)) {
		case scopex.RoleAdmin:
			// The widest role wins when a subject carries several.
			role = scopex.RoleAdmin
		case scopex.RoleWardOfficer:
			if role != scopex.RoleAdmin {
				role = scopex.RoleWardOfficer
			}
		case scopex.RoleMaintenance:
			if role == "" || role == scopex.RoleCitizen {
				role = scopex.RoleMaintenance
			}
		case scopex.RoleCitizen:
			if role == "" {
				role = scopex.RoleCitizen
			}
		}
	}
	if role == "" {
		return scopex.Scope{}, fmt.Errorf("no recognized role")
	}

	scope := scopex.Scope{Role: role, Subject: auth.Subject}
	if wardID, ok := auth.Claims["ward_id"].(string); ok {
		scope.WardID = strings.TrimSpace(wardID)
	}
	if subZoneID, ok := auth.Claims["sub_zone_id"].(string); ok {
		scope.SubZoneID = strings.TrimSpace(subZoneID)
	}
	if role == scopex.RoleAdmin {
		scope.WardID = ""
		scope.SubZoneID = ""
	}
	if (role == scopex.RoleWardOfficer || role == scopex.RoleMaintenance) && scope.WardID == "" {
		return scopex.Scope{}, fmt.Errorf("role %s requires a ward_id claim", role)
	}
	return scope, nil
}
