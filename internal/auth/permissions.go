package auth

// Permission represents a specific action that can be authorised.
type Permission string

const (
	PermPlaylistRead    Permission = "playlist:read"
	PermPlayoutControl  Permission = "playout:control"
	PermActionExecute   Permission = "action:execute"
	PermPlaylistOnAir   Permission = "playlist:on_air"
	PermTimelineControl Permission = "timeline:control"
)

// rolePermissions is the static role-to-permission mapping.
// Each role includes the permissions of the roles below it.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermPlaylistRead,
	},
	RoleOperator: {
		PermPlaylistRead,
		PermPlayoutControl,
		PermActionExecute,
		PermTimelineControl,
	},
	RoleDirector: {
		PermPlaylistRead,
		PermPlayoutControl,
		PermActionExecute,
		PermTimelineControl,
		PermPlaylistOnAir,
	},
}

// roleLookup is built once from rolePermissions for O(1) checks.
var roleLookup = func() map[Role]map[Permission]bool {
	m := make(map[Role]map[Permission]bool, len(rolePermissions))
	for role, perms := range rolePermissions {
		set := make(map[Permission]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		m[role] = set
	}
	return m
}()

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return roleLookup[role][perm]
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}
