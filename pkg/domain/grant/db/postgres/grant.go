package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	"github.com/fleetforge/fleetforge/pkg/domain"
	domerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

type grantPG struct { // implements kdb.GrantInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *grantPG {
	return &grantPG{pool: pool}
}

var _ kdb.GrantInterface = &grantPG{}

func (m *grantPG) Grant(ctx context.Context, grant domain.RoleGrant) error {
	if grant.Role == domain.SuperAdmin {
		return xe.Wrap(fmt.Errorf(
			"%w: super-admin cannot be granted per tenant", domerr.ErrInvariantViolation,
		))
	}

	_, err := m.pool.Exec(
		ctx,
		`
		insert into "role_grant" ("subject", "tenant_id", "role") values ($1, $2, $3)
		on conflict ("subject", "tenant_id") do update set "role" = excluded."role"
		`,
		grant.Subject, grant.TenantId, string(grant.Role),
	)
	return err
}

func (m *grantPG) Revoke(ctx context.Context, subject string, tenantId string) error {
	_, err := m.pool.Exec(
		ctx,
		`delete from "role_grant" where "subject" = $1 and "tenant_id" = $2`,
		subject, tenantId,
	)
	return err
}

func (m *grantPG) GrantsFor(ctx context.Context, subject string) ([]domain.RoleGrant, error) {
	rows, err := m.pool.Query(
		ctx,
		`select "subject", "tenant_id", "role" from "role_grant" where "subject" = $1`,
		subject,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []domain.RoleGrant{}
	for rows.Next() {
		g := domain.RoleGrant{}
		role := ""
		if err := rows.Scan(&g.Subject, &g.TenantId, &role); err != nil {
			return nil, err
		}
		r, err := domain.AsRole(role)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		g.Role = r
		grants = append(grants, g)
	}
	return grants, nil
}

func (m *grantPG) RoleOn(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error) {
	role := ""
	if err := m.pool.QueryRow(
		ctx,
		`select "role" from "role_grant" where "subject" = $1 and "tenant_id" = $2`,
		subject, tenantId,
	).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	r, err := domain.AsRole(role)
	if err != nil {
		return "", false, xe.Wrap(err)
	}
	return r, true, nil
}
