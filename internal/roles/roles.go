package roles

import (
	"fmt"
	"strings"
)

// Role is the closed set of actor roles recognised by the call engine.
// Keep these stable; they are part of auth and escalation contracts.
type Role string

const (
	RoleClient     Role = "client"
	RoleReader     Role = "reader"
	RoleMonitor    Role = "monitor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// All lists every known role in escalation order (clients never appear in a chain).
func All() []Role {
	return []Role{RoleClient, RoleReader, RoleMonitor, RoleAdmin, RoleSuperAdmin}
}

// Parse converts a string into a known Role.
func Parse(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient, nil
	case RoleReader:
		return RoleReader, nil
	case RoleMonitor:
		return RoleMonitor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSuperAdmin:
		return RoleSuperAdmin, nil
	default:
		return "", fmt.Errorf("roles: unknown role %q", s)
	}
}

// Capabilities is the per-actor capability set resolved once and passed into
// operations, instead of re-deriving role checks at every call site.
type Capabilities struct {
	CanOriginate bool // may create call sessions
	CanAnswer    bool // may accept a ringing call when targeted
	AdminTier    bool // admin/super_admin privileges (delete recordings, view all)
}

// CapabilitiesFor resolves the capability set for a role.
func CapabilitiesFor(role Role) Capabilities {
	switch role {
	case RoleClient:
		return Capabilities{CanOriginate: true}
	case RoleReader, RoleMonitor:
		return Capabilities{CanAnswer: true}
	case RoleAdmin, RoleSuperAdmin:
		return Capabilities{CanAnswer: true, AdminTier: true}
	default:
		return Capabilities{}
	}
}

// IsAdminTier reports whether the role carries elevated privileges.
func IsAdminTier(role Role) bool {
	return CapabilitiesFor(role).AdminTier
}
