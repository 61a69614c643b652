package postgres

import (
	"context"

	kpool "github.com/fleetforge/fleetforge/pkg/conn/postgres/pool"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	xe "github.com/fleetforge/fleetforge/pkg/utils/xe"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type auditPG struct { // implements kdb.AuditInterface
	pool kpool.Pool
}

func New(pool kpool.Pool) *auditPG {
	return &auditPG{pool: pool}
}

var _ kdb.AuditInterface = &auditPG{}

func (m *auditPG) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	seq := int64(0)
	if err := m.pool.QueryRow(
		ctx,
		`
		insert into "audit_event" (
			"subject", "tenant_id", "action", "resource", "outcome", "super_user"
		) values ($1, $2, $3, $4, $5, $6)
		returning "seq"
		`,
		event.Subject, event.TenantId, event.Action,
		event.Resource, string(event.Outcome), event.SuperUser,
	).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (m *auditPG) Find(ctx context.Context, query domain.AuditFindQuery) ([]domain.AuditEvent, error) {
	rows, err := m.pool.Query(
		ctx,
		`
		select "seq", "timestamp", "subject", "tenant_id",
			"action", "resource", "outcome", "super_user"
		from "audit_event"
		where
			(cardinality($1::varchar[]) = 0 or "tenant_id" = any($1))
			and (cardinality($2::varchar[]) = 0 or "subject" = any($2))
			and (cardinality($3::varchar[]) = 0 or "action" = any($3))
			and ($4::timestamptz is null or $4 <= "timestamp")
			and ($5::timestamptz is null or "timestamp" < $5)
		order by "seq"
		`,
		query.TenantId, query.Subject, query.Action, query.Since, query.Until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.AuditEvent{}
	for rows.Next() {
		e := domain.AuditEvent{}
		outcome := ""
		if err := rows.Scan(
			&e.Seq, &e.Timestamp, &e.Subject, &e.TenantId,
			&e.Action, &e.Resource, &outcome, &e.SuperUser,
		); err != nil {
			return nil, err
		}
		o, err := domain.AsAuditOutcome(outcome)
		if err != nil {
			return nil, xe.Wrap(err)
		}
		e.Outcome = o
		events = append(events, e)
	}
	return events, nil
}
