package auth

import (
	"github.com/fleetforge/fleetforge/pkg/domain"
)

type Action string

const (
	ActionRegisterTenant Action = "tenant.register"
	ActionReadTenant     Action = "tenant.read"
	ActionUpdateTenant   Action = "tenant.update"
	ActionDeleteTenant   Action = "tenant.delete"
	ActionRotateTrust    Action = "tenant.rotate-trust-scope"

	ActionGrantRole  Action = "grant.grant"
	ActionRevokeRole Action = "grant.revoke"

	ActionCreateJob Action = "job.create"
	ActionReadJob   Action = "job.read"
	ActionCancelJob Action = "job.cancel"

	ActionCreateDeployment   Action = "deployment.create"
	ActionReadDeployment     Action = "deployment.read"
	ActionRollbackDeployment Action = "deployment.rollback"
	ActionResolveHalt        Action = "deployment.resolve-halt"

	ActionReadAudit Action = "audit.read"
)

func (a Action) String() string {
	return string(a)
}

// roles permitted per action, on the tenant the action is scoped to.
//
// An action absent from this table, or mapped to an empty set, is reachable
// through the SuperAdmin bypass only. SuperAdmin never appears in a set; the
// bypass is decided before the table is consulted.
var permitted = map[Action][]domain.Role{
	ActionReadTenant:   {domain.TenantAdmin, domain.Scientist, domain.Operator, domain.Viewer},
	ActionUpdateTenant: {domain.TenantAdmin},
	ActionRotateTrust:  {domain.TenantAdmin},

	ActionGrantRole:  {domain.TenantAdmin},
	ActionRevokeRole: {domain.TenantAdmin},

	ActionCreateJob: {domain.TenantAdmin, domain.Scientist},
	ActionReadJob:   {domain.TenantAdmin, domain.Scientist, domain.Operator, domain.Viewer},
	ActionCancelJob: {domain.TenantAdmin, domain.Scientist},

	ActionCreateDeployment:   {domain.TenantAdmin, domain.Operator},
	ActionReadDeployment:     {domain.TenantAdmin, domain.Scientist, domain.Operator, domain.Viewer},
	ActionRollbackDeployment: {domain.TenantAdmin, domain.Operator},
	ActionResolveHalt:        {domain.TenantAdmin, domain.Operator},

	ActionReadAudit: {domain.TenantAdmin},
}

// Permits reports whether role may do a on its tenant.
func (a Action) Permits(role domain.Role) bool {
	for _, r := range permitted[a] {
		if r == role {
			return true
		}
	}
	return false
}
