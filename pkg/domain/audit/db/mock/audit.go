package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
)

type AuditInterface struct {
	Impl struct {
		Append func(ctx context.Context, event domain.AuditEvent) (int64, error)
		Find   func(ctx context.Context, query domain.AuditFindQuery) ([]domain.AuditEvent, error)
	}

	Calls struct {
		Append dbmock.CallLog[domain.AuditEvent]
		Find   dbmock.CallLog[domain.AuditFindQuery]
	}
}

func NewAuditInterface() *AuditInterface {
	return &AuditInterface{}
}

var _ kdb.AuditInterface = &AuditInterface{}

func (m *AuditInterface) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	m.Calls.Append = append(m.Calls.Append, event)
	if m.Impl.Append != nil {
		return m.Impl.Append(ctx, event)
	}

	panic(errors.New("it should not be called"))
}

func (m *AuditInterface) Find(ctx context.Context, query domain.AuditFindQuery) ([]domain.AuditEvent, error) {
	m.Calls.Find = append(m.Calls.Find, query)
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx, query)
	}

	panic(errors.New("it should not be called"))
}
