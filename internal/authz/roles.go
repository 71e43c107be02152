// Package authz implements role and permission based authorization
// decisions for authenticated principals.
package authz

import "fmt"

// Role is an enumerated caller role.
type Role string

// Known roles.
const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleUser    Role = "user"
	RoleViewer  Role = "viewer"
)

// Permission identifies a single grantable capability.
type Permission string

// Known permissions.
const (
	PermDocumentsRead   Permission = "documents:read"
	PermDocumentsWrite  Permission = "documents:write"
	PermDocumentsDelete Permission = "documents:delete"
	PermDocumentsShare  Permission = "documents:share"
	PermVersionsRead    Permission = "versions:read"
	PermVersionsRestore Permission = "versions:restore"
	PermUsersManage     Permission = "users:manage"
	PermReportsView     Permission = "reports:view"
	PermSystemAdmin     Permission = "system:admin"
)

// rolePermissions maps each role to its baseline permission set.
// Unknown roles resolve to nothing, so authorization fails closed.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermDocumentsRead, PermDocumentsWrite, PermDocumentsDelete, PermDocumentsShare,
		PermVersionsRead, PermVersionsRestore,
		PermUsersManage, PermReportsView, PermSystemAdmin,
	},
	RoleManager: {
		PermDocumentsRead, PermDocumentsWrite, PermDocumentsDelete, PermDocumentsShare,
		PermVersionsRead, PermVersionsRestore,
		PermReportsView,
	},
	RoleUser: {
		PermDocumentsRead, PermDocumentsWrite, PermDocumentsShare,
		PermVersionsRead,
	},
	RoleViewer: {
		PermDocumentsRead,
		PermVersionsRead,
	},
}

// ParseRole converts a role name to a Role. It returns an error for
// names outside the known set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleManager, RoleUser, RoleViewer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// BaselinePermissions returns the permission set granted by the role
// alone. The returned slice is a copy.
func BaselinePermissions(role Role) []Permission {
	base, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(base))
	copy(out, base)
	return out
}

// ResolvePermissions returns the union of the role's baseline
// permissions and the custom grants, deduplicated and stable.
// An unknown role contributes nothing.
func ResolvePermissions(role Role, custom []string) []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission

	for _, p := range rolePermissions[role] {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, s := range custom {
		p := Permission(s)
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// HasPermission reports whether the resolved permission set for the
// role and custom grants contains the required permission.
func HasPermission(role Role, custom []string, required Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == required {
			return true
		}
	}
	for _, s := range custom {
		if Permission(s) == required {
			return true
		}
	}
	return false
}
