package auth

import (
	"errors"
	"slices"
)

// Role represents an authorisation tier in the gallery.
type Role string

const (
	// RoleViewer can watch the rundown but not change it.
	RoleViewer Role = "viewer"

	// RoleOperator drives the show: takes, next, holds and actions.
	RoleOperator Role = "operator"

	// RoleDirector can additionally bring a playlist on and off air.
	RoleDirector Role = "director"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleDirector}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject string
	Role    Role
	// Studios limits the studios the caller may address. Empty means all.
	Studios []string
}

// CanAccessStudio reports whether p may address studioID.
func (p *Principal) CanAccessStudio(studioID string) bool {
	return len(p.Studios) == 0 || slices.Contains(p.Studios, studioID)
}

// Can reports whether p's role grants perm.
func (p *Principal) Can(perm Permission) bool {
	return HasPermission(p.Role, perm)
}

// Sentinel errors for authentication and authorisation.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
