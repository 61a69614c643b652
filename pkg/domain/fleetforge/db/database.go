package db

import (
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	kcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	kdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	kgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
)

type FleetDatabase interface {
	Tenant() ktenant.TenantInterface
	Grant() kgrant.GrantInterface
	Job() kjob.JobInterface
	Component() kcomponent.ComponentInterface
	Deployment() kdeployment.DeploymentInterface
	Audit() kaudit.AuditInterface
	Close() error
}
