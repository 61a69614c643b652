package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kpgerr "github.com/fleetforge/fleetforge/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// a struct for DB operations related to Tenant
type tenantPG struct { // implements kdb.TenantInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *tenantPG {
	return &tenantPG{pool: pool}
}

var _ kdb.TenantInterface = &tenantPG{}

func (m *tenantPG) Register(ctx context.Context, spec domain.TenantSpec) (string, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	tenantId := uuid.NewString()
	if _, err := tx.Exec(
		ctx,
		`
		insert into "tenant" (
			"id", "name", "account_id", "region",
			"external_id", "trust_scope_version", "owner", "lifecycle"
		) values ($1, $2, $3, $4, $5, 1, $6, $7)
		`,
		tenantId, spec.Name, spec.Environment.AccountId, spec.Environment.Region,
		spec.ExternalId, spec.Owner, string(domain.TenantActive),
	); err != nil {
		return "", err
	}

	for _, s := range spec.Storage {
		if _, err := tx.Exec(
			ctx,
			`insert into "tenant_storage" ("tenant_id", "kind", "uri") values ($1, $2, $3)`,
			tenantId, s.Kind, s.URI,
		); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return tenantId, nil
}

func (m *tenantPG) Get(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tenants, err := getTenants(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	return tenants, tx.Commit(ctx)
}

func getTenants(ctx context.Context, tx kpool.Tx, ids []string) (map[string]domain.Tenant, error) {
	rows, err := tx.Query(
		ctx,
		`
		select
			"id", "name", "account_id", "region",
			"external_id", "trust_scope_version",
			"owner", "lifecycle", "updated_at"
		from "tenant" where "id" = any($1)
		`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := map[string]domain.Tenant{}
	for rows.Next() {
		t := domain.Tenant{}
		lifecycle := ""
		if err := rows.Scan(
			&t.Id, &t.Name, &t.Environment.AccountId, &t.Environment.Region,
			&t.TrustScope.ExternalId, &t.TrustScope.Version,
			&t.Owner, &lifecycle, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		l, err := domain.AsTenantLifecycle(lifecycle)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		t.Lifecycle = l
		t.Storage = []domain.StorageLocation{}
		tenants[t.Id] = t
	}
	rows.Close()

	srows, err := tx.Query(
		ctx,
		`select "tenant_id", "kind", "uri" from "tenant_storage" where "tenant_id" = any($1)`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer srows.Close()

	for srows.Next() {
		tenantId := ""
		s := domain.StorageLocation{}
		if err := srows.Scan(&tenantId, &s.Kind, &s.URI); err != nil {
			return nil, err
		}
		t, ok := tenants[tenantId]
		if !ok {
			continue
		}
		t.Storage = append(t.Storage, s)
		tenants[tenantId] = t
	}

	return tenants, nil
}

func (m *tenantPG) Find(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(
		ctx,
		`select "id" from "tenant" where "lifecycle" != $1 order by "name"`,
		string(domain.TenantDeleted),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		id := ""
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *tenantPG) UpdateStorage(ctx context.Context, id string, storage []domain.StorageLocation) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockTenant(ctx, tx, id); err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx, `delete from "tenant_storage" where "tenant_id" = $1`, id,
	); err != nil {
		return err
	}
	for _, s := range storage {
		if _, err := tx.Exec(
			ctx,
			`insert into "tenant_storage" ("tenant_id", "kind", "uri") values ($1, $2, $3)`,
			id, s.Kind, s.URI,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		ctx, `update "tenant" set "updated_at" = now() where "id" = $1`, id,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (m *tenantPG) RotateTrustScope(ctx context.Context, id string, newExternalId string) (int, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	newVersion := 0
	if err := tx.QueryRow(
		ctx,
		`
		update "tenant"
		set "external_id" = $1,
			"trust_scope_version" = "trust_scope_version" + 1,
			"updated_at" = now()
		where "id" = $2 and "lifecycle" != $3
		returning "trust_scope_version"
		`,
		newExternalId, id, string(domain.TenantDeleted),
	).Scan(&newVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, kpgerr.Missing{Table: "tenant", Identity: id}
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newVersion, nil
}

func (m *tenantPG) Delete(ctx context.Context, id string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockTenant(ctx, tx, id); err != nil {
		return err
	}

	// Dependents are counted under the tenant row lock, so a concurrent job
	// create (which also locks the tenant row) cannot race this check.
	dependents := 0
	if err := tx.QueryRow(
		ctx,
		`
		select
			(select count(*) from "job"
				where "tenant_id" = $1 and not ("status" = any($2)))
			+
			(select count(*) from "deployment"
				where "tenant_id" = $1 and not ("status" = any($3)))
		`,
		id,
		[]string{string(domain.Published), string(domain.Failed)},
		[]string{
			string(domain.DeploySucceeded),
			string(domain.DeployFailed),
			string(domain.DeployRolledBack),
		},
	).Scan(&dependents); err != nil {
		return err
	}

	newLifecycle := domain.TenantDeleted
	if 0 < dependents {
		newLifecycle = domain.TenantDeletionBlocked
	}

	if _, err := tx.Exec(
		ctx,
		`update "tenant" set "lifecycle" = $1, "updated_at" = now() where "id" = $2`,
		string(newLifecycle), id,
	); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if 0 < dependents {
		return xe.Wrap(domain.ErrTenantHasDependents)
	}
	return nil
}

// lockTenant takes the row lock of a live tenant.
func lockTenant(ctx context.Context, tx kpool.Tx, id string) error {
	found := ""
	if err := tx.QueryRow(
		ctx,
		`select "id" from "tenant" where "id" = $1 and "lifecycle" != $2 for update`,
		id, string(domain.TenantDeleted),
	).Scan(&found); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kpgerr.Missing{Table: "tenant", Identity: id}
		}
		return err
	}
	return nil
}
