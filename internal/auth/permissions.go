package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read state but not change it.
	RoleViewer Role = "viewer"

	// RoleOperator may also connect the session, publish and edit devices.
	RoleOperator Role = "operator"
)

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermRead    Permission = "devicelink:read"
	PermControl Permission = "devicelink:control"
)

// Auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermRead},
	RoleOperator: {PermRead, PermControl},
}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
