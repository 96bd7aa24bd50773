// Package rbac defines the ordered role hierarchies used for workspace and
// group authorization.
package rbac

import "strings"

// Role is a workspace membership role. Values are spaced so new roles can be
// inserted between existing ones without renumbering.
type Role int

const (
	RoleViewer Role = 10
	RoleMember Role = 20
	RoleAdmin  Role = 30
	RoleOwner  Role = 40
)

// HasPermission reports whether actual satisfies required.
func HasPermission(actual, required Role) bool {
	return actual >= required
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleMember:
		return "member"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleMember, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}

// ParseRole maps a role name to a Role. Unknown names report false.
func ParseRole(name string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "viewer":
		return RoleViewer, true
	case "member":
		return RoleMember, true
	case "admin":
		return RoleAdmin, true
	case "owner":
		return RoleOwner, true
	default:
		return 0, false
	}
}

// GroupRole is the smaller hierarchy inside a group.
type GroupRole string

const (
	GroupRoleAdmin  GroupRole = "admin"
	GroupRoleMember GroupRole = "member"
)

func NormalizeGroupRole(role string) GroupRole {
	if GroupRole(strings.ToLower(strings.TrimSpace(role))) == GroupRoleAdmin {
		return GroupRoleAdmin
	}
	return GroupRoleMember
}
