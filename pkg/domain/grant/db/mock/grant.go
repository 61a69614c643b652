package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
)

type GrantInterface struct {
	Impl struct {
		Grant     func(ctx context.Context, grant domain.RoleGrant) error
		Revoke    func(ctx context.Context, subject string, tenantId string) error
		GrantsFor func(ctx context.Context, subject string) ([]domain.RoleGrant, error)
		RoleOn    func(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error)
	}

	Calls struct {
		Grant  dbmock.CallLog[domain.RoleGrant]
		Revoke dbmock.CallLog[struct {
			Subject  string
			TenantId string
		}]
		GrantsFor dbmock.CallLog[string]
		RoleOn    dbmock.CallLog[struct {
			Subject  string
			TenantId string
		}]
	}
}

func NewGrantInterface() *GrantInterface {
	return &GrantInterface{}
}

var _ kdb.GrantInterface = &GrantInterface{}

func (m *GrantInterface) Grant(ctx context.Context, grant domain.RoleGrant) error {
	m.Calls.Grant = append(m.Calls.Grant, grant)
	if m.Impl.Grant != nil {
		return m.Impl.Grant(ctx, grant)
	}

	panic(errors.New("it should not be called"))
}

func (m *GrantInterface) Revoke(ctx context.Context, subject string, tenantId string) error {
	m.Calls.Revoke = append(m.Calls.Revoke, struct {
		Subject  string
		TenantId string
	}{Subject: subject, TenantId: tenantId})
	if m.Impl.Revoke != nil {
		return m.Impl.Revoke(ctx, subject, tenantId)
	}

	panic(errors.New("it should not be called"))
}

func (m *GrantInterface) GrantsFor(ctx context.Context, subject string) ([]domain.RoleGrant, error) {
	m.Calls.GrantsFor = append(m.Calls.GrantsFor, subject)
	if m.Impl.GrantsFor != nil {
		return m.Impl.GrantsFor(ctx, subject)
	}

	panic(errors.New("it should not be called"))
}

func (m *GrantInterface) RoleOn(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error) {
	m.Calls.RoleOn = append(m.Calls.RoleOn, struct {
		Subject  string
		TenantId string
	}{Subject: subject, TenantId: tenantId})
	if m.Impl.RoleOn != nil {
		return m.Impl.RoleOn(ctx, subject, tenantId)
	}

	panic(errors.New("it should not be called"))
}
