package domain

import "fmt"

type Role string

const (
	// SuperAdmin may do anything, on any tenant. Never stored as a RoleGrant.
	SuperAdmin Role = "super-admin"

	// TenantAdmin administers a single tenant: members, jobs, deployments.
	TenantAdmin Role = "tenant-admin"

	// Scientist runs labeling/training pipelines on a tenant.
	Scientist Role = "scientist"

	// Operator manages deployments on a tenant.
	Operator Role = "operator"

	// Viewer has read-only access. This is the fail-safe default.
	Viewer Role = "viewer"
)

func (r Role) String() string {
	return string(r)
}

func AsRole(s string) (Role, error) {
	switch s {
	case string(SuperAdmin):
		return SuperAdmin, nil
	case string(TenantAdmin):
		return TenantAdmin, nil
	case string(Scientist):
		return Scientist, nil
	case string(Operator):
		return Operator, nil
	case string(Viewer):
		return Viewer, nil
	default:
		return "", fmt.Errorf("'%s' is not Role", s)
	}
}

// privilege rank of r. Bigger is more privileged.
func (r Role) rank() int {
	switch r {
	case SuperAdmin:
		return 4
	case TenantAdmin:
		return 3
	case Scientist:
		return 2
	case Operator:
		return 1
	default:
		return 0
	}
}

// MorePrivilegedThan reports r outranks other.
func (r Role) MorePrivilegedThan(other Role) bool {
	return r.rank() > other.rank()
}

// MapGroups maps asserted identity-provider groups to a Role through mapping.
//
// Unknown groups are ignored. When no group maps to anything, the result is
// Viewer, never anything higher.
func MapGroups(groups []string, mapping map[string]Role) Role {
	role := Viewer
	for _, g := range groups {
		mapped, ok := mapping[g]
		if !ok {
			continue
		}
		if mapped.MorePrivilegedThan(role) {
			role = mapped
		}
	}
	return role
}

// An authenticated actor. Resolved once per request and immutable after that.
type Principal struct {
	// stable identifier from the identity provider.
	Subject string

	// role across the whole control plane, derived from group membership.
	GlobalRole Role

	// raw group memberships, kept for audit.
	Groups []string
}

func (p Principal) Equal(other Principal) bool {
	if p.Subject != other.Subject || p.GlobalRole != other.GlobalRole {
		return false
	}
	if len(p.Groups) != len(other.Groups) {
		return false
	}
	for nth := range p.Groups {
		if p.Groups[nth] != other.Groups[nth] {
			return false
		}
	}
	return true
}

// (principal, tenant, role) triple.
//
// SuperAdmin holds an implicit grant for every tenant; that is computed in the
// authorization guard, never stored as a row, so it cannot go stale.
type RoleGrant struct {
	Subject  string
	TenantId string
	Role     Role
}

func (g RoleGrant) Equal(other RoleGrant) bool {
	return g == other
}
