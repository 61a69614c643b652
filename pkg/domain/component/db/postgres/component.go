package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	domerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	kpgerr "github.com/fleetforge/fleetforge/pkg/domain/errors/dberrors/postgres"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type componentPG struct { // implements kdb.ComponentInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *componentPG {
	return &componentPG{pool: pool}
}

var _ kdb.ComponentInterface = &componentPG{}

func (m *componentPG) NextVersion(ctx context.Context, tenantId string, name string) (int, error) {
	version := 0
	if err := m.pool.QueryRow(
		ctx,
		`
		select coalesce(max("version"), 0) + 1 from "published_component"
		where "tenant_id" = $1 and "name" = $2
		`,
		tenantId, name,
	).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (m *componentPG) Record(ctx context.Context, component domain.PublishedComponent) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Versions are strictly increasing per (tenant, name): a version at or
	// below the current max is stale even if its exact row does not exist.
	max := 0
	if err := tx.QueryRow(
		ctx,
		`
		select coalesce(max("version"), 0) from "published_component"
		where "tenant_id" = $1 and "name" = $2
		`,
		component.TenantId, component.Name,
	).Scan(&max); err != nil {
		return err
	}
	if component.Version <= max {
		return xe.Wrap(domerr.ErrVersionConflict)
	}

	if _, err := tx.Exec(
		ctx,
		`
		insert into "published_component" ("tenant_id", "name", "version", "ref", "job_id")
		values ($1, $2, $3, $4, $5)
		`,
		component.TenantId, component.Name, component.Version,
		component.Ref, component.JobId,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return xe.Wrap(domerr.ErrVersionConflict)
		}
		return err
	}

	return tx.Commit(ctx)
}

func (m *componentPG) Get(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
	return m.queryOne(
		ctx, name,
		`
		select "tenant_id", "name", "version", "ref", "job_id", "created_at"
		from "published_component"
		where "tenant_id" = $1 and "name" = $2 and "version" = $3
		`,
		tenantId, name, version,
	)
}

func (m *componentPG) LatestOf(ctx context.Context, tenantId string, name string) (domain.PublishedComponent, error) {
	return m.queryOne(
		ctx, name,
		`
		select "tenant_id", "name", "version", "ref", "job_id", "created_at"
		from "published_component"
		where "tenant_id" = $1 and "name" = $2
		order by "version" desc limit 1
		`,
		tenantId, name,
	)
}

func (m *componentPG) PreviousOf(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
	return m.queryOne(
		ctx, name,
		`
		select "tenant_id", "name", "version", "ref", "job_id", "created_at"
		from "published_component"
		where "tenant_id" = $1 and "name" = $2 and "version" < $3
		order by "version" desc limit 1
		`,
		tenantId, name, version,
	)
}

func (m *componentPG) queryOne(ctx context.Context, identity string, sql string, args ...interface{}) (domain.PublishedComponent, error) {
	c := domain.PublishedComponent{}
	if err := m.pool.QueryRow(ctx, sql, args...).Scan(
		&c.TenantId, &c.Name, &c.Version, &c.Ref, &c.JobId, &c.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PublishedComponent{}, kpgerr.Missing{
				Table: "published_component", Identity: identity,
			}
		}
		return domain.PublishedComponent{}, err
	}
	return c, nil
}
