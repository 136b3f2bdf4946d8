package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of privilege levels an identity can hold.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role in ascending order of privilege.
var Roles = []Role{RoleUser, RoleModerator, RoleAdmin}

// Rank returns the role's position in the hierarchy. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r.Rank() > 0 }

func (r Role) String() string { return string(r) }

// ParseRole normalizes raw input and rejects anything outside the enumeration.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q (want one of %s)", ErrInvalidRole, raw, roleNames())
	}
	return role, nil
}

func roleNames() string {
	names := make([]string, len(Roles))
	for i, r := range Roles {
		names[i] = r.String()
	}
	return strings.Join(names, ", ")
}

// IsValidRole is the boundary check applied before any state mutation.
func IsValidRole(raw string) bool {
	_, err := ParseRole(raw)
	return err == nil
}

// HasPermission reports whether userRole ranks at least as high as requiredRole.
func HasPermission(userRole, requiredRole Role) bool {
	if !userRole.Valid() || !requiredRole.Valid() {
		return false
	}
	return userRole.Rank() >= requiredRole.Rank()
}

// CanModifyUser decides whether an actor may change another identity's role or state.
// Admins may modify anyone, moderators only plain users, users nobody.
func CanModifyUser(actorRole, targetRole Role) bool {
	switch actorRole {
	case RoleAdmin:
		return targetRole.Valid()
	case RoleModerator:
		return targetRole == RoleUser
	default:
		return false
	}
}
