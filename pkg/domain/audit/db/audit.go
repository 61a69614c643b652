package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type AuditInterface interface {
	// Append records an event and assigns its monotonic sequence number.
	//
	// Seq and Timestamp on the passed event are ignored; the store decides
	// both. There is no update or delete operation, on purpose.
	//
	// Returns
	//
	// - int64: the assigned sequence number. It doubles as the correlation
	// id for the request that caused the event.
	//
	// - error
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)

	// Find events matching query, ordered by sequence number.
	Find(ctx context.Context, query domain.AuditFindQuery) ([]domain.AuditEvent, error)
}
