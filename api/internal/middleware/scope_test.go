package middleware

import (
	"testing"

	"citizen-grievance-platform/shared/authx"
	"citizen-grievance-platform/shared/scopex"
)

func TestScopeFromAuthWidestRoleWins(t *testing.T) {
	auth := authx.AuthContext{
		Subject: "user-1",
		Roles:   []string{"citizen", "administrator", "ward_officer"},
		Claims:  map[string]any{"ward_id": "W-07"},
	}
	scope, err := scopeFromAuth(auth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scope.Role != scopex.RoleAdmin {
		t.Fatalf("expected administrator, got %s", scope.Role)
	}
	if scope.WardID != "" {
		t.Fatalf("admins must be unscoped, got ward %q", scope.WardID)
	}
}

func TestScopeFromAuthOfficerRequiresWard(t *testing.T) {
	auth := authx.AuthContext{
		Subject: "user-2",
		Roles:   []string{"ward_officer"},
		Claims:  map[string]any{},
	}
	if _, err := scopeFromAuth(auth); err == nil {
		t.Fatal("expected error for ward officer without ward claim")
	}

	auth.Claims["ward_id"] = "W-03"
	scope, err := scopeFromAuth(auth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scope.WardID != "W-03" || scope.CrossWard() {
		t.Fatalf("officer must be pinned to ward: %+v", scope)
	}
}

func TestScopeFromAuthRejectsUnknownRoles(t *testing.T) {
	auth := authx.AuthContext{Subject: "user-3", Roles: []string{"superuser"}}
	if _, err := scopeFromAuth(auth); err == nil {
		t.Fatal("expected error for unrecognized role")
	}
}

func TestScopeFromAuthCitizenWithoutWard(t *testing.T) {
	auth := authx.AuthContext{Subject: "user-4", Roles: []string{"citizen"}}
	scope, err := scopeFromAuth(auth)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scope.CrossWard() {
		t.Fatal("citizens must never get cross-ward visibility")
	}
}
