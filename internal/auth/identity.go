package auth

import "fmt"

// Require returns nil when identity holds at least the given role.
func (i Identity) Require(role Role) error {
	if i.ID == "" {
		return ErrAuthenticationRequired
	}
	if !HasPermission(i.Role, role) {
		return fmt.Errorf("%w: %s role required", ErrForbidden, role)
	}
	return nil
}

// Allowed returns nil when identity may perform action.
func (i Identity) Allowed(action Action) error {
	if i.ID == "" {
		return ErrAuthenticationRequired
	}
	if !Can(i.Role, action) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, action, RequiredRole(action))
	}
	return nil
}
