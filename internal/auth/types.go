package auth

import (
	"errors"
	"fmt"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername reports whether username is 1-64 characters of
// letters, digits, dots, hyphens and underscores.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is the authorisation tier of an operator.
type Role string

const (
	// RoleViewer may read device state, snapshots and the audit trail.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally send commands, switch channels and
	// manage the device connection.
	RoleOperator Role = "operator"
)

// ParseRole maps a configured role name. Empty means RoleOperator.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleOperator:
		return RoleOperator, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Operator is an authenticated API user.
type Operator struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
