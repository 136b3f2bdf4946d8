package auth

// Action names a privileged operation guarded by the permission matrix.
type Action string

const (
	ActionManageRoles     Action = "users.role.update"
	ActionSuspendUsers    Action = "users.suspend"
	ActionPublishNotice   Action = "notifications.publish"
	ActionReadOwnIdentity Action = "identity.read"
)

// permissionMatrix maps each action to the lowest role allowed to perform it.
var permissionMatrix = map[Action]Role{
	ActionReadOwnIdentity: RoleUser,
	ActionSuspendUsers:    RoleModerator,
	ActionPublishNotice:   RoleModerator,
	ActionManageRoles:     RoleAdmin,
}

// RequiredRole returns the minimum role for action. Unknown actions require admin.
func RequiredRole(action Action) Role {
	if role, ok := permissionMatrix[action]; ok {
		return role
	}
	return RoleAdmin
}

// Can reports whether role may perform action.
func Can(role Role, action Action) bool {
	return HasPermission(role, RequiredRole(action))
}
