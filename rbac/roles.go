package rbac

import "slices"

// Role represents a logical capability grouping for authenticated users.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Permission represents an actionable verb within the API surface.
type Permission string

const (
	PermissionViewSubscribers   Permission = "subscribers:view"
	PermissionManageSubscribers Permission = "subscribers:manage"
	PermissionViewLocations     Permission = "locations:view"
	PermissionViewSession       Permission = "session:view"
)

// RoleMatrix enumerates which roles satisfy a permission.
var RoleMatrix = map[Permission][]Role{
	PermissionViewSubscribers: {
		RoleAdmin,
		RoleViewer,
	},
	PermissionManageSubscribers: {
		RoleAdmin,
	},
	PermissionViewLocations: {
		RoleAdmin,
		RoleViewer,
	},
	PermissionViewSession: {
		RoleAdmin,
		RoleViewer,
	},
}

func hasIntersection(roles, allowed []Role) bool {
	return slices.ContainsFunc(allowed, func(role Role) bool {
		return slices.Contains(roles, role)
	})
}
