package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kpgerr "github.com/fleetforge/fleetforge/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// a struct for DB operations related to Deployment
type deploymentPG struct { // implements kdb.DeploymentInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *deploymentPG {
	return &deploymentPG{pool: pool}
}

var _ kdb.DeploymentInterface = &deploymentPG{}

func (m *deploymentPG) New(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	// same shared lock as job create; blocks tenant deletion, not each other.
	lifecycle := ""
	if err := tx.QueryRow(
		ctx,
		`select "lifecycle" from "tenant" where "id" = $1 for share`,
		spec.TenantId,
	).Scan(&lifecycle); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kpgerr.Missing{Table: "tenant", Identity: spec.TenantId}
		}
		return "", err
	}
	if lifecycle != string(domain.TenantActive) {
		return "", kpgerr.Missing{
			Table: "tenant", Identity: spec.TenantId + " (not active)",
		}
	}

	exists := false
	if err := tx.QueryRow(
		ctx,
		`
		select exists (
			select 1 from "published_component"
			where "tenant_id" = $1 and "name" = $2 and "version" = $3
		)
		`,
		spec.TenantId, spec.ComponentName, spec.ComponentVersion,
	).Scan(&exists); err != nil {
		return "", err
	}
	if !exists {
		return "", kpgerr.Missing{
			Table:    "published_component",
			Identity: spec.ComponentName,
		}
	}

	// no-op guard: the exact version already succeeded on every requested
	// device in the most recent deployment covering it.
	covered := 0
	if err := tx.QueryRow(
		ctx,
		`
		select count(distinct dd."device_id")
		from "deployment_device" dd
		join "deployment" d on d."id" = dd."deployment_id"
		where d."tenant_id" = $1
			and d."component_name" = $2
			and d."component_version" = $3
			and d."status" = $4
			and dd."device_id" = any($5)
			and dd."state" = $6
		`,
		spec.TenantId, spec.ComponentName, spec.ComponentVersion,
		string(domain.DeploySucceeded), spec.Targets, string(domain.DeviceSucceeded),
	).Scan(&covered); err != nil {
		return "", err
	}
	if 0 < len(spec.Targets) && covered == len(spec.Targets) {
		return "", xe.Wrap(domain.ErrAlreadyDeployed)
	}

	deploymentId := uuid.NewString()
	if _, err := tx.Exec(
		ctx,
		`
		insert into "deployment" (
			"id", "tenant_id", "component_name", "component_version",
			"strategy", "status", "rollback_of", "created_by"
		) values ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
		deploymentId, spec.TenantId, spec.ComponentName, spec.ComponentVersion,
		string(spec.Strategy), string(domain.DeployPending),
		spec.RollbackOf, spec.CreatedBy,
	); err != nil {
		return "", err
	}

	for _, device := range spec.Targets {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "deployment_device" ("deployment_id", "device_id")
			values ($1, $2)
			`,
			deploymentId, device,
		); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return deploymentId, nil
}

func (m *deploymentPG) Get(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	deployments, err := getDeployments(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	return deployments, tx.Commit(ctx)
}

func getDeployments(ctx context.Context, tx kpool.Tx, ids []string) (map[string]domain.Deployment, error) {
	rows, err := tx.Query(
		ctx,
		`
		select
			"id", "tenant_id", "component_name", "component_version",
			"strategy", "status", "halted", "rollback_of", "rollout_ref",
			"rolled_out", "created_by", "created_at", "updated_at"
		from "deployment" where "id" = any($1)
		`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := map[string]domain.Deployment{}
	for rows.Next() {
		d := domain.Deployment{}
		strategy, status := "", ""
		if err := rows.Scan(
			&d.Id, &d.TenantId, &d.ComponentName, &d.ComponentVersion,
			&strategy, &status, &d.Halted, &d.RollbackOf, &d.RolloutRef,
			&d.RolledOut, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}

		st, err := domain.AsDeployStrategy(strategy)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		d.Strategy = st

		s, err := domain.AsDeploymentStatus(status)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		d.Status = s

		d.Targets = []string{}
		d.DeviceStatus = map[string]domain.DeviceState{}
		deployments[d.Id] = d
	}
	rows.Close()

	drows, err := tx.Query(
		ctx,
		`
		select "deployment_id", "device_id", "state", "rolled_out"
		from "deployment_device" where "deployment_id" = any($1)
		order by "device_id"
		`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer drows.Close()

	for drows.Next() {
		deploymentId, device, state := "", "", ""
		rolledOut := false
		if err := drows.Scan(&deploymentId, &device, &state, &rolledOut); err != nil {
			return nil, err
		}
		s, err := domain.AsDeviceState(state)
		if err != nil {
			return nil, xe.Wrap(err)
		}

		d, ok := deployments[deploymentId]
		if !ok {
			continue
		}
		d.Targets = append(d.Targets, device)
		if rolledOut {
			d.DeviceStatus[device] = s
		}
		deployments[deploymentId] = d
	}

	return deployments, nil
}

func (m *deploymentPG) Find(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error) {
	status := make([]string, 0, len(query.Status))
	for _, s := range query.Status {
		status = append(status, string(s))
	}

	rows, err := m.pool.Query(
		ctx,
		`
		select "id" from "deployment"
		where
			(cardinality($1::varchar[]) = 0 or "tenant_id" = any($1))
			and (cardinality($2::varchar[]) = 0 or "status" = any($2))
		order by "updated_at", "id"
		`,
		query.TenantId, status,
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

func (m *deploymentPG) SetStatus(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := setStatus(ctx, tx, deploymentId, newStatus); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func setStatus(ctx context.Context, tx kpool.Tx, deploymentId string, newStatus domain.DeploymentStatus) error {
	current, err := lockDeployment(ctx, tx, deploymentId)
	if err != nil {
		return err
	}
	if current == newStatus {
		return nil
	}
	if !current.CanTransitTo(newStatus) {
		return xe.Wrap(domain.NewErrInvalidDeploymentStateChanging(current, newStatus))
	}

	if _, err := tx.Exec(
		ctx,
		`update "deployment" set "status" = $1, "updated_at" = now() where "id" = $2`,
		string(newStatus), deploymentId,
	); err != nil {
		return err
	}
	return nil
}

func lockDeployment(ctx context.Context, tx kpool.Tx, deploymentId string) (domain.DeploymentStatus, error) {
	status := ""
	if err := tx.QueryRow(
		ctx,
		`select "status" from "deployment" where "id" = $1 for update`,
		deploymentId,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kpgerr.Missing{Table: "deployment", Identity: deploymentId}
		}
		return "", err
	}
	s, err := domain.AsDeploymentStatus(status)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return s, nil
}

func (m *deploymentPG) SetRolloutRef(ctx context.Context, deploymentId string, rolloutRef string) error {
	tag, err := m.pool.Exec(
		ctx,
		`update "deployment" set "rollout_ref" = $1, "updated_at" = now() where "id" = $2`,
		rolloutRef, deploymentId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "deployment", Identity: deploymentId}
	}
	return nil
}

func (m *deploymentPG) SetHalted(ctx context.Context, deploymentId string, halted bool) error {
	tag, err := m.pool.Exec(
		ctx,
		`update "deployment" set "halted" = $1, "updated_at" = now() where "id" = $2`,
		halted, deploymentId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "deployment", Identity: deploymentId}
	}
	return nil
}

func (m *deploymentPG) MarkRolledOut(ctx context.Context, deploymentId string, devices []string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx,
		`
		update "deployment_device" set "rolled_out" = true, "state" = $1
		where "deployment_id" = $2 and "device_id" = any($3) and not "rolled_out"
		`,
		string(domain.DeviceDeploying), deploymentId, devices,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "deployment"
		set "rolled_out" = (
			select count(*) from "deployment_device"
			where "deployment_id" = $1 and "rolled_out"
		), "updated_at" = now()
		where "id" = $1
		`,
		deploymentId,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (m *deploymentPG) SetDeviceState(ctx context.Context, deploymentId string, device string, state domain.DeviceState) error {
	tag, err := m.pool.Exec(
		ctx,
		`
		update "deployment_device" set "state" = $1
		where "deployment_id" = $2 and "device_id" = $3
		`,
		string(state), deploymentId, device,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table:    "deployment_device",
			Identity: deploymentId + "/" + device,
		}
	}
	return nil
}

func (m *deploymentPG) PickAndSetStatus(
	ctx context.Context, cursor domain.DeploymentCursor,
	task func(domain.Deployment) (domain.DeploymentStatus, error),
) (domain.DeploymentCursor, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return cursor, false, err
	}
	defer tx.Rollback(ctx)

	status := make([]string, 0, len(cursor.Status))
	for _, s := range cursor.Status {
		status = append(status, string(s))
	}

	deploymentId := ""
	err = tx.QueryRow(
		ctx,
		`
		select "id" from "deployment"
		where "status" = any($1) and "suspend_until" <= now() and $2 < "id"
		order by "id" limit 1
		for update skip locked
		`,
		status, cursor.Head,
	).Scan(&deploymentId)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(
			ctx,
			`
			select "id" from "deployment"
			where "status" = any($1) and "suspend_until" <= now()
			order by "id" limit 1
			for update skip locked
			`,
			status,
		).Scan(&deploymentId)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor, false, nil
		}
		return cursor, false, err
	}

	deployments, err := getDeployments(ctx, tx, []string{deploymentId})
	if err != nil {
		return cursor, false, err
	}
	deployment, ok := deployments[deploymentId]
	if !ok {
		return cursor, false, kpgerr.Missing{Table: "deployment", Identity: deploymentId}
	}

	newCursor := domain.DeploymentCursor{
		Head: deploymentId, Debounce: cursor.Debounce, Status: cursor.Status,
	}

	newStatus, err := task(deployment)
	if err != nil {
		return newCursor, false, err
	}

	if newStatus != deployment.Status {
		if err := setStatus(ctx, tx, deploymentId, newStatus); err != nil {
			return newCursor, false, err
		}
	}
	if _, err := tx.Exec(
		ctx,
		`update "deployment" set "suspend_until" = now() + $1 where "id" = $2`,
		cursor.Debounce, deploymentId,
	); err != nil {
		return newCursor, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return newCursor, false, err
	}
	return newCursor, newStatus != deployment.Status, nil
}
