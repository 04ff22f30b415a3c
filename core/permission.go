package core

import "strings"

// Permission is a document access level. Levels are totally ordered:
// read < write < admin.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

func (p Permission) rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether p is one of the known levels.
func (p Permission) Valid() bool {
	return p.rank() > 0
}

// Satisfies reports whether p grants at least the required level.
func (p Permission) Satisfies(required Permission) bool {
	return p.Valid() && p.rank() >= required.rank()
}

// ParsePermission normalizes user input into a Permission.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", Validationf("invalid permission %q", s)
	}
	return p, nil
}
