package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	"github.com/fleetforge/fleetforge/pkg/conn/postgres/schema"
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	kpgaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db/postgres"
	kcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	kpgcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db/postgres"
	kdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	kpgdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db/postgres"
	dbInterface "github.com/fleetforge/fleetforge/pkg/domain/fleetforge/db"
	kgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	kpggrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db/postgres"
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	kpgjob "github.com/fleetforge/fleetforge/pkg/domain/job/db/postgres"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	kpgtenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db/postgres"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

type fleetDBPostgres struct {
	pool       *pgxpool.Pool
	tenant     ktenant.TenantInterface
	grant      kgrant.GrantInterface
	job        kjob.JobInterface
	component  kcomponent.ComponentInterface
	deployment kdeployment.DeploymentInterface
	audit      kaudit.AuditInterface
}

type Option func(*options)

type options struct {
	upgradeSchema bool
}

// WithSchemaUpgrade applies pending schema migrations on connect. One daemon
// per deployment should carry this; the others just connect.
func WithSchemaUpgrade() Option {
	return func(o *options) {
		o.upgradeSchema = true
	}
}

func New(ctx context.Context, url string, opts ...Option) (dbInterface.FleetDatabase, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, xe.Wrap(err)
	}

	p := kpool.Wrap(pool)

	if o.upgradeSchema {
		if err := schema.Upgrade(ctx, p); err != nil {
			pool.Close()
			return nil, xe.Wrap(err)
		}
	}

	return &fleetDBPostgres{
		pool:       pool,
		tenant:     kpgtenant.New(p),
		grant:      kpggrant.New(p),
		job:        kpgjob.New(p),
		component:  kpgcomponent.New(p),
		deployment: kpgdeployment.New(p),
		audit:      kpgaudit.New(p),
	}, nil
}

func (f *fleetDBPostgres) Tenant() ktenant.TenantInterface {
	return f.tenant
}

func (f *fleetDBPostgres) Grant() kgrant.GrantInterface {
	return f.grant
}

func (f *fleetDBPostgres) Job() kjob.JobInterface {
	return f.job
}

func (f *fleetDBPostgres) Component() kcomponent.ComponentInterface {
	return f.component
}

func (f *fleetDBPostgres) Deployment() kdeployment.DeploymentInterface {
	return f.deployment
}

func (f *fleetDBPostgres) Audit() kaudit.AuditInterface {
	return f.audit
}

func (f *fleetDBPostgres) Close() error {
	f.pool.Close()
	return nil
}
