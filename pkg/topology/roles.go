// Package topology assigns fleet roles to registered devices, derives
// per-role capabilities, and computes role-diversity quorum. Roles are
// coarse and fixed: capability sets are a pure function of role, never
// configurable per device.
package topology

import "fmt"

// Role is a device's function within the fleet.
type Role string

const (
	RoleAuthority  Role = "AUTHORITY"
	RoleStorage    Role = "STORAGE"
	RoleWorker     Role = "WORKER"
	RoleUnassigned Role = "UNASSIGNED"
)

// Valid reports whether r is one of the assignable roles. UNASSIGNED is a
// derived state, never assigned explicitly.
func (r Role) Valid() bool {
	switch r {
	case RoleAuthority, RoleStorage, RoleWorker:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// ParseRole converts a stored string back into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAuthority, RoleStorage, RoleWorker, RoleUnassigned:
		return Role(s), nil
	}
	return RoleUnassigned, fmt.Errorf("topology: unknown role %q", s)
}

// Capabilities is the fixed permission set a role confers.
type Capabilities struct {
	CanAdmit            bool `json:"can_admit"`
	CanManageMembership bool `json:"can_manage_membership"`
	CanStore            bool `json:"can_store"`
	CanReplicate        bool `json:"can_replicate"`
	CanCompute          bool `json:"can_compute"`
}

// CapabilitiesOf returns the capability set for a role. Pure function;
// the zero Capabilities value (no permissions) covers UNASSIGNED and any
// unknown role.
func CapabilitiesOf(r Role) Capabilities {
	switch r {
	case RoleAuthority:
		return Capabilities{CanAdmit: true, CanManageMembership: true}
	case RoleStorage:
		return Capabilities{CanStore: true, CanReplicate: true}
	case RoleWorker:
		return Capabilities{CanCompute: true}
	default:
		return Capabilities{}
	}
}
