package auth

import "slices"

// Permission is a named capability checked by the API.
type Permission string

// Permissions.
const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermAuditRead     Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
		PermAuditRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermAuditRead,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
