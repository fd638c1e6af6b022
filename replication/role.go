package replication

import (
	"fmt"
	"strings"
)

// Role is the replication role of a node
type Role string

const (
	RolePrimary Role = "primary"
	RoleReplica Role = "replica"
)

// ParseRole parses a role name. "master" and "slave" are accepted as
// aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary", "master":
		return RolePrimary, nil
	case "replica", "slave":
		return RoleReplica, nil
	default:
		return "", fmt.Errorf("replication: unknown role %q", s)
	}
}

// IsReplica reports whether r is the replica role
func (r Role) IsReplica() bool {
	return r == RoleReplica
}
