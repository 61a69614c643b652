package schema

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
)

// schema migrations, applied in order. Each entry runs in its own transaction
// and is recorded in "schema_version".
var migrations = []string{
	`
	create table if not exists "schema_version" (
		"version" int primary key,
		"applied_at" timestamp with time zone not null default now()
	);

	create table if not exists "tenant" (
		"id" varchar(36) primary key,
		"name" varchar(255) not null unique,
		"account_id" varchar(64) not null,
		"region" varchar(64) not null,
		"external_id" varchar(255) not null,
		"trust_scope_version" int not null default 1,
		"owner" varchar(255) not null,
		"lifecycle" varchar(32) not null default 'active',
		"updated_at" timestamp with time zone not null default now()
	);

	create table if not exists "tenant_storage" (
		"tenant_id" varchar(36) not null references "tenant" ("id") on delete cascade,
		"kind" varchar(64) not null,
		"uri" varchar(1024) not null,
		primary key ("tenant_id", "kind")
	);

	create table if not exists "role_grant" (
		"subject" varchar(255) not null,
		"tenant_id" varchar(36) not null references "tenant" ("id") on delete cascade,
		"role" varchar(32) not null,
		primary key ("subject", "tenant_id")
	);

	create table if not exists "job" (
		"id" varchar(36) primary key,
		"tenant_id" varchar(36) not null references "tenant" ("id"),
		"kind" varchar(32) not null,
		"status" varchar(32) not null default 'queued',
		"idempotency_key" varchar(255) not null,
		"created_by" varchar(255) not null,
		"created_at" timestamp with time zone not null default now(),
		"updated_at" timestamp with time zone not null default now(),
		"completed_at" timestamp with time zone,
		"external_ref" varchar(255) not null default '',
		"attempts" int not null default 0,
		"cancel_requested" boolean not null default false,
		"failed_stage" varchar(32) not null default '',
		"failure_reason" varchar(1024) not null default '',
		"compile_result" varchar(16) not null default '',
		"input_location" varchar(1024) not null default '',
		"model_location" varchar(1024) not null default '',
		"package_ref" varchar(255) not null default '',
		"component_name" varchar(255) not null default '',
		"suspend_until" timestamp with time zone not null default now(),
		unique ("tenant_id", "idempotency_key")
	);
	create index if not exists "job_status" on "job" ("status", "suspend_until");

	create table if not exists "compile_target" (
		"job_id" varchar(36) not null references "job" ("id") on delete cascade,
		"name" varchar(64) not null,
		"platform" varchar(255) not null,
		"state" varchar(16) not null default 'pending',
		"attempts" int not null default 0,
		"external_ref" varchar(255) not null default '',
		"artifact_location" varchar(1024) not null default '',
		"reason" varchar(1024) not null default '',
		primary key ("job_id", "name")
	);

	create table if not exists "job_signal" (
		"external_ref" varchar(255) primary key,
		"succeeded" boolean not null,
		"result_location" varchar(1024) not null default '',
		"reason" varchar(1024) not null default '',
		"transient" boolean not null default false,
		"received_at" timestamp with time zone not null default now()
	);

	create table if not exists "published_component" (
		"tenant_id" varchar(36) not null references "tenant" ("id"),
		"name" varchar(255) not null,
		"version" int not null,
		"ref" varchar(255) not null,
		"job_id" varchar(36) not null references "job" ("id"),
		"created_at" timestamp with time zone not null default now(),
		primary key ("tenant_id", "name", "version")
	);

	create table if not exists "deployment" (
		"id" varchar(36) primary key,
		"tenant_id" varchar(36) not null references "tenant" ("id"),
		"component_name" varchar(255) not null,
		"component_version" int not null,
		"strategy" varchar(32) not null,
		"status" varchar(32) not null default 'pending',
		"halted" boolean not null default false,
		"rollback_of" varchar(36) not null default '',
		"rollout_ref" varchar(255) not null default '',
		"rolled_out" int not null default 0,
		"created_by" varchar(255) not null,
		"created_at" timestamp with time zone not null default now(),
		"updated_at" timestamp with time zone not null default now(),
		"suspend_until" timestamp with time zone not null default now()
	);
	create index if not exists "deployment_status" on "deployment" ("status", "suspend_until");

	create table if not exists "deployment_device" (
		"deployment_id" varchar(36) not null references "deployment" ("id") on delete cascade,
		"device_id" varchar(255) not null,
		"state" varchar(16) not null default 'pending',
		"rolled_out" boolean not null default false,
		primary key ("deployment_id", "device_id")
	);

	create table if not exists "audit_event" (
		"seq" bigserial primary key,
		"timestamp" timestamp with time zone not null default now(),
		"subject" varchar(255) not null,
		"tenant_id" varchar(36) not null default '',
		"action" varchar(64) not null,
		"resource" varchar(255) not null default '',
		"outcome" varchar(16) not null,
		"super_user" boolean not null default false
	);
	create index if not exists "audit_event_tenant" on "audit_event" ("tenant_id", "seq");
	`,
}

// Version this binary expects. Upgrade refuses to run against a newer schema.
func Version() int {
	return len(migrations)
}

// CurrentVersion reads the applied schema version. 0 means "no schema yet".
func CurrentVersion(ctx context.Context, conn kpool.Queryer) (int, error) {
	version := 0
	err := conn.QueryRow(
		ctx, `select coalesce(max("version"), 0) from "schema_version"`,
	).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// Upgrade applies pending migrations.
func Upgrade(ctx context.Context, pool kpool.Pool) error {
	current, err := CurrentVersion(ctx, pool)
	if err != nil {
		return err
	}
	if len(migrations) < current {
		return errors.New("database schema is newer than this binary")
	}

	for v := current; v < len(migrations); v++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, migrations[v]); err != nil {
			tx.Rollback(ctx)
			return err
		}
		if _, err := tx.Exec(
			ctx, `insert into "schema_version" ("version") values ($1)`, v+1,
		); err != nil {
			tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
