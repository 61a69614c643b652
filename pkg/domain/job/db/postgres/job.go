package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kpgerr "github.com/fleetforge/fleetforge/pkg/domain/errors/dberrors/postgres"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"
)

// a struct for DB operations related to Job
type jobPG struct { // implements kdb.JobInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *jobPG {
	return &jobPG{pool: pool}
}

var _ kdb.JobInterface = &jobPG{}

func (m *jobPG) New(ctx context.Context, spec domain.JobSpec) (string, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback(ctx)

	// Shared lock on the tenant row: many jobs can be created concurrently,
	// but none while Delete holds the exclusive lock for its dependent count.
	lifecycle := ""
	if err := tx.QueryRow(
		ctx,
		`select "lifecycle" from "tenant" where "id" = $1 for share`,
		spec.TenantId,
	).Scan(&lifecycle); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, kpgerr.Missing{Table: "tenant", Identity: spec.TenantId}
		}
		return "", false, err
	}
	if lifecycle != string(domain.TenantActive) {
		return "", false, kpgerr.Missing{
			Table:    "tenant",
			Identity: spec.TenantId + " (not active)",
		}
	}

	jobId := uuid.NewString()
	tag, err := tx.Exec(
		ctx,
		`
		insert into "job" (
			"id", "tenant_id", "kind", "status", "idempotency_key",
			"created_by", "input_location", "component_name"
		) values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict ("tenant_id", "idempotency_key") do nothing
		`,
		jobId, spec.TenantId, string(spec.Kind), string(domain.Queued),
		spec.IdempotencyKey, spec.CreatedBy, spec.InputLocation, spec.ComponentName,
	)
	if err != nil {
		return "", false, err
	}

	created := tag.RowsAffected() == 1
	if !created {
		// replayed request: hand back the job the first request created.
		if err := tx.QueryRow(
			ctx,
			`select "id" from "job" where "tenant_id" = $1 and "idempotency_key" = $2`,
			spec.TenantId, spec.IdempotencyKey,
		).Scan(&jobId); err != nil {
			return "", false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, err
	}
	return jobId, created, nil
}

func (m *jobPG) Get(ctx context.Context, ids []string) (map[string]domain.Job, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	jobs, err := getJobs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	return jobs, tx.Commit(ctx)
}

func getJobs(ctx context.Context, tx kpool.Tx, ids []string) (map[string]domain.Job, error) {
	rows, err := tx.Query(
		ctx,
		`
		select
			"id", "tenant_id", "kind", "status", "idempotency_key",
			"created_by", "created_at", "updated_at", "completed_at",
			"external_ref", "attempts", "cancel_requested",
			"failed_stage", "failure_reason", "compile_result",
			"input_location", "model_location", "package_ref", "component_name"
		from "job" where "id" = any($1)
		`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := map[string]domain.Job{}
	for rows.Next() {
		j := domain.Job{}
		kind, status, compileResult := "", "", ""
		if err := rows.Scan(
			&j.Id, &j.TenantId, &kind, &status, &j.IdempotencyKey,
			&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
			&j.ExternalRef, &j.Attempts, &j.CancelRequested,
			&j.FailedStage, &j.FailureReason, &compileResult,
			&j.InputLocation, &j.ModelLocation, &j.PackageRef, &j.ComponentName,
		); err != nil {
			return nil, err
		}

		k, err := domain.AsJobKind(kind)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		j.Kind = k

		s, err := domain.AsJobStatus(status)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		j.Status = s
		j.CompileResult = domain.CompileResult(compileResult)
		j.Targets = []domain.TargetStatus{}
		jobs[j.Id] = j
	}
	rows.Close()

	trows, err := tx.Query(
		ctx,
		`
		select
			"job_id", "name", "platform", "state", "attempts",
			"external_ref", "artifact_location", "reason"
		from "compile_target" where "job_id" = any($1)
		order by "name"
		`,
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer trows.Close()

	for trows.Next() {
		t := domain.TargetStatus{}
		state := ""
		if err := trows.Scan(
			&t.JobId, &t.Target.Name, &t.Target.Platform, &state, &t.Attempts,
			&t.ExternalRef, &t.ArtifactLocation, &t.Reason,
		); err != nil {
			return nil, err
		}
		s, err := domain.AsTargetState(state)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		t.State = s

		j, ok := jobs[t.JobId]
		if !ok {
			continue
		}
		j.Targets = append(j.Targets, t)
		jobs[t.JobId] = j
	}

	return jobs, nil
}

func (m *jobPG) Find(ctx context.Context, query domain.JobFindQuery) ([]string, error) {
	status := make([]string, 0, len(query.Status))
	for _, s := range query.Status {
		status = append(status, string(s))
	}
	kind := make([]string, 0, len(query.Kind))
	for _, k := range query.Kind {
		kind = append(kind, string(k))
	}

	rows, err := m.pool.Query(
		ctx,
		`
		select "id" from "job"
		where
			(cardinality($1::varchar[]) = 0 or "tenant_id" = any($1))
			and (cardinality($2::varchar[]) = 0 or "status" = any($2))
			and (cardinality($3::varchar[]) = 0 or "kind" = any($3))
			and ($4::timestamptz is null or $4 <= "updated_at")
			and ($5::timestamptz is null or "updated_at" < $5)
		order by "updated_at", "id"
		`,
		query.TenantId, status, kind, query.UpdatedSince, query.UpdatedUntil,
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

func (m *jobPG) SetStatus(ctx context.Context, jobId string, newStatus domain.JobStatus) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := setStatus(ctx, tx, jobId, newStatus); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func setStatus(ctx context.Context, tx kpool.Tx, jobId string, newStatus domain.JobStatus) error {
	current, err := lockJob(ctx, tx, jobId)
	if err != nil {
		return err
	}
	if current == newStatus {
		return nil
	}
	if !current.CanTransitTo(newStatus) {
		return xe.Wrap(domain.NewErrInvalidJobStateChanging(current, newStatus))
	}

	if _, err := tx.Exec(
		ctx,
		`
		update "job"
		set "status" = $1, "updated_at" = now(),
			"completed_at" = case when $2 then now() else "completed_at" end
		where "id" = $3
		`,
		string(newStatus), newStatus.Terminal(), jobId,
	); err != nil {
		return err
	}
	return nil
}

// lockJob takes the row lock of a job and reports its current status.
func lockJob(ctx context.Context, tx kpool.Tx, jobId string) (domain.JobStatus, error) {
	status := ""
	if err := tx.QueryRow(
		ctx, `select "status" from "job" where "id" = $1 for update`, jobId,
	).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", kpgerr.Missing{Table: "job", Identity: jobId}
		}
		return "", err
	}
	s, err := domain.AsJobStatus(status)
	if err != nil {
		return "", xe.Wrap(err)
	}
	return s, nil
}

func (m *jobPG) RecordSubmission(ctx context.Context, jobId string, externalRef string) error {
	tag, err := m.pool.Exec(
		ctx,
		`
		update "job"
		set "external_ref" = $1, "attempts" = "attempts" + 1, "updated_at" = now()
		where "id" = $2
		`,
		externalRef, jobId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "job", Identity: jobId}
	}
	return nil
}

func (m *jobPG) RequestCancel(ctx context.Context, jobId string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	current, err := lockJob(ctx, tx, jobId)
	if err != nil {
		return err
	}
	if current.Terminal() {
		return xe.Wrap(domain.NewErrInvalidJobStateChanging(current, current))
	}

	if _, err := tx.Exec(
		ctx,
		`update "job" set "cancel_requested" = true, "updated_at" = now() where "id" = $1`,
		jobId,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *jobPG) SetFailure(ctx context.Context, jobId string, stage string, reason string) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := setStatus(ctx, tx, jobId, domain.Failed); err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx,
		`update "job" set "failed_stage" = $1, "failure_reason" = $2 where "id" = $3`,
		stage, reason, jobId,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *jobPG) SetModelLocation(ctx context.Context, jobId string, location string) error {
	tag, err := m.pool.Exec(
		ctx,
		`update "job" set "model_location" = $1, "updated_at" = now() where "id" = $2`,
		location, jobId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "job", Identity: jobId}
	}
	return nil
}

func (m *jobPG) SetPackageRef(ctx context.Context, jobId string, ref string) error {
	tag, err := m.pool.Exec(
		ctx,
		`update "job" set "package_ref" = $1, "updated_at" = now() where "id" = $2`,
		ref, jobId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "job", Identity: jobId}
	}
	return nil
}

func (m *jobPG) ResetSubmission(ctx context.Context, jobId string) error {
	tag, err := m.pool.Exec(
		ctx,
		`update "job" set "external_ref" = '', "attempts" = 0, "updated_at" = now() where "id" = $1`,
		jobId,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "job", Identity: jobId}
	}
	return nil
}

func (m *jobPG) SetCompileResult(ctx context.Context, jobId string, result domain.CompileResult) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := setStatus(ctx, tx, jobId, domain.Compiled); err != nil {
		return err
	}
	if _, err := tx.Exec(
		ctx,
		`update "job" set "compile_result" = $1 where "id" = $2`,
		string(result), jobId,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *jobPG) PickAndSetStatus(
	ctx context.Context, cursor domain.JobCursor,
	task func(domain.Job) (domain.JobStatus, error),
) (domain.JobCursor, bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return cursor, false, err
	}
	defer tx.Rollback(ctx)

	status := make([]string, 0, len(cursor.Status))
	for _, s := range cursor.Status {
		status = append(status, string(s))
	}
	kind := make([]string, 0, len(cursor.Kind))
	for _, k := range cursor.Kind {
		kind = append(kind, string(k))
	}

	// pick cyclically: first the job after the cursor head, then wrap around.
	jobId := ""
	err = tx.QueryRow(
		ctx,
		`
		select "id" from "job"
		where "status" = any($1)
			and (cardinality($2::varchar[]) = 0 or "kind" = any($2))
			and "suspend_until" <= now()
			and $3 < "id"
		order by "id" limit 1
		for update skip locked
		`,
		status, kind, cursor.Head,
	).Scan(&jobId)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(
			ctx,
			`
			select "id" from "job"
			where "status" = any($1)
				and (cardinality($2::varchar[]) = 0 or "kind" = any($2))
				and "suspend_until" <= now()
			order by "id" limit 1
			for update skip locked
			`,
			status, kind,
		).Scan(&jobId)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor, false, nil
		}
		return cursor, false, err
	}

	jobs, err := getJobs(ctx, tx, []string{jobId})
	if err != nil {
		return cursor, false, err
	}
	job, ok := jobs[jobId]
	if !ok {
		return cursor, false, kpgerr.Missing{Table: "job", Identity: jobId}
	}

	newCursor := domain.JobCursor{
		Head: jobId, Debounce: cursor.Debounce,
		Status: cursor.Status, Kind: cursor.Kind,
	}

	newStatus, err := task(job)
	if err != nil {
		return newCursor, false, err
	}

	if newStatus != job.Status {
		if err := setStatus(ctx, tx, jobId, newStatus); err != nil {
			return newCursor, false, err
		}
	}
	if _, err := tx.Exec(
		ctx,
		`update "job" set "suspend_until" = now() + $1 where "id" = $2`,
		cursor.Debounce, jobId,
	); err != nil {
		return newCursor, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return newCursor, false, err
	}
	return newCursor, newStatus != job.Status, nil
}

func (m *jobPG) InitTargets(ctx context.Context, jobId string, targets []domain.CompileTarget) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range targets {
		if _, err := tx.Exec(
			ctx,
			`
			insert into "compile_target" ("job_id", "name", "platform")
			values ($1, $2, $3)
			on conflict ("job_id", "name") do nothing
			`,
			jobId, t.Name, t.Platform,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (m *jobPG) RecordTargetSubmission(ctx context.Context, jobId string, name string, externalRef string) error {
	tag, err := m.pool.Exec(
		ctx,
		`
		update "compile_target"
		set "external_ref" = $1, "attempts" = "attempts" + 1, "state" = $2
		where "job_id" = $3 and "name" = $4
		`,
		externalRef, string(domain.TargetSubmitted), jobId, name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "compile_target", Identity: jobId + "/" + name}
	}
	return nil
}

func (m *jobPG) SetTargetState(ctx context.Context, jobId string, name string, state domain.TargetState, reason string) error {
	tag, err := m.pool.Exec(
		ctx,
		`
		update "compile_target" set "state" = $1, "reason" = $2
		where "job_id" = $3 and "name" = $4
		`,
		string(state), reason, jobId, name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{Table: "compile_target", Identity: jobId + "/" + name}
	}
	return nil
}

func (m *jobPG) RecordArtifact(ctx context.Context, artifact domain.CompiledArtifact) error {
	tag, err := m.pool.Exec(
		ctx,
		`
		update "compile_target"
		set "state" = $1, "artifact_location" = $2, "reason" = ''
		where "job_id" = $3 and "name" = $4
		`,
		string(domain.TargetSucceeded), artifact.Location,
		artifact.JobId, artifact.TargetName,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return kpgerr.Missing{
			Table:    "compile_target",
			Identity: artifact.JobId + "/" + artifact.TargetName,
		}
	}
	return nil
}

func (m *jobPG) Artifacts(ctx context.Context, jobId string) ([]domain.CompiledArtifact, error) {
	rows, err := m.pool.Query(
		ctx,
		`
		select "job_id", "name", "artifact_location" from "compile_target"
		where "job_id" = $1 and "state" = $2
		order by "name"
		`,
		jobId, string(domain.TargetSucceeded),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := []domain.CompiledArtifact{}
	for rows.Next() {
		a := domain.CompiledArtifact{}
		if err := rows.Scan(&a.JobId, &a.TargetName, &a.Location); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (m *jobPG) RecordSignal(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (bool, error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// unknown or stale references are dropped: a crash here would let a
	// spoofed ref poison the signal table forever.
	known := false
	if err := tx.QueryRow(
		ctx,
		`
		select exists (select 1 from "job" where "external_ref" = $1)
			or exists (select 1 from "compile_target" where "external_ref" = $1)
		`,
		externalRef,
	).Scan(&known); err != nil {
		return false, err
	}
	if !known {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(
		ctx,
		`
		insert into "job_signal" (
			"external_ref", "succeeded", "result_location", "reason", "transient"
		) values ($1, $2, $3, $4, $5)
		on conflict ("external_ref") do update set
			"succeeded" = excluded."succeeded",
			"result_location" = excluded."result_location",
			"reason" = excluded."reason",
			"transient" = excluded."transient",
			"received_at" = now()
		`,
		externalRef, outcome.Succeeded, outcome.ResultLocation,
		outcome.Reason, outcome.Transient,
	); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (m *jobPG) Signal(ctx context.Context, externalRef string) (*domain.CompletionOutcome, error) {
	outcome := domain.CompletionOutcome{}
	err := m.pool.QueryRow(
		ctx,
		`
		delete from "job_signal" where "external_ref" = $1
		returning "succeeded", "result_location", "reason", "transient"
		`,
		externalRef,
	).Scan(
		&outcome.Succeeded, &outcome.ResultLocation,
		&outcome.Reason, &outcome.Transient,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &outcome, nil
}
