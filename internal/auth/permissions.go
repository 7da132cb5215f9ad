package auth

import (
	"fmt"
	"strings"
)

// Role is the identity tier stored in users.role.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

// Privileged reports whether the role bypasses circle ownership checks.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleModerator
}

// ParseRole normalises and validates a role name.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleModerator, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}
