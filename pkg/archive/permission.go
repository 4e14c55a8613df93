package archive

import "strings"

// Permission is the closed set of capabilities a token may hold. Using a
// typed constant set instead of free-form strings prevents typo-class bugs
// in permission checks.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
)

// Valid reports whether p is one of the three recognized permissions.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete:
		return true
	}
	return false
}

// ParsePermission normalizes and validates a permission string.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// ParsePermissions converts a list of permission strings, rejecting the whole
// list if any entry is invalid.
func ParsePermissions(ss []string) ([]Permission, bool) {
	perms := make([]Permission, 0, len(ss))
	for _, s := range ss {
		p, ok := ParsePermission(s)
		if !ok {
			return nil, false
		}
		perms = append(perms, p)
	}
	return perms, true
}
