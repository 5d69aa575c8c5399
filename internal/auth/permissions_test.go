package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role      Role
		should    []Permission
		shouldNot []Permission
	}{
		{
			role:      RoleViewer,
			should:    []Permission{PermPlaylistRead},
			shouldNot: []Permission{PermPlayoutControl, PermActionExecute, PermTimelineControl, PermPlaylistOnAir},
		},
		{
			role:      RoleOperator,
			should:    []Permission{PermPlaylistRead, PermPlayoutControl, PermActionExecute, PermTimelineControl},
			shouldNot: []Permission{PermPlaylistOnAir},
		},
		{
			role:   RoleDirector,
			should: []Permission{PermPlaylistRead, PermPlayoutControl, PermActionExecute, PermTimelineControl, PermPlaylistOnAir},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			for _, perm := range tt.should {
				if !HasPermission(tt.role, perm) {
					t.Errorf("%s should have %s", tt.role, perm)
				}
			}
			for _, perm := range tt.shouldNot {
				if HasPermission(tt.role, perm) {
					t.Errorf("%s should NOT have %s", tt.role, perm)
				}
			}
		})
	}
}

func TestHasPermission_UnknownRole(t *testing.T) {
	if HasPermission("owner", PermPlaylistRead) {
		t.Error("unknown role should have no permissions")
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleOperator)
	if len(perms) != 4 {
		t.Errorf("operator permissions = %d, want 4", len(perms))
	}

	// Mutating the result must not change the mapping.
	perms[0] = PermPlaylistOnAir
	if HasPermission(RoleOperator, PermPlaylistOnAir) {
		t.Error("PermissionsForRole() returned the internal slice")
	}

	if PermissionsForRole("owner") != nil {
		t.Error("unknown role should return nil")
	}
}

func TestPrincipal(t *testing.T) {
	all := &Principal{Subject: "dir", Role: RoleDirector}
	if !all.CanAccessStudio("any") {
		t.Error("empty studio list should grant every studio")
	}
	if !all.Can(PermPlaylistOnAir) {
		t.Error("director should be able to put a playlist on air")
	}

	scoped := &Principal{Subject: "op", Role: RoleOperator, Studios: []string{"a", "b"}}
	if scoped.CanAccessStudio("c") {
		t.Error("studio c should be out of scope")
	}
	if !IsValidRole(RoleViewer) || IsValidRole("panel") {
		t.Error("IsValidRole() disagrees with ValidRoles")
	}
}
