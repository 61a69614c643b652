package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
)

type ComponentInterface struct {
	Impl struct {
		NextVersion func(ctx context.Context, tenantId string, name string) (int, error)
		Record      func(ctx context.Context, component domain.PublishedComponent) error
		Get         func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error)
		LatestOf    func(ctx context.Context, tenantId string, name string) (domain.PublishedComponent, error)
		PreviousOf  func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error)
	}

	Calls struct {
		NextVersion dbmock.CallLog[struct {
			TenantId string
			Name     string
		}]
		Record dbmock.CallLog[domain.PublishedComponent]
		Get    dbmock.CallLog[struct {
			TenantId string
			Name     string
			Version  int
		}]
		LatestOf dbmock.CallLog[struct {
			TenantId string
			Name     string
		}]
		PreviousOf dbmock.CallLog[struct {
			TenantId string
			Name     string
			Version  int
		}]
	}
}

func NewComponentInterface() *ComponentInterface {
	return &ComponentInterface{}
}

var _ kdb.ComponentInterface = &ComponentInterface{}

func (m *ComponentInterface) NextVersion(ctx context.Context, tenantId string, name string) (int, error) {
	m.Calls.NextVersion = append(m.Calls.NextVersion, struct {
		TenantId string
		Name     string
	}{TenantId: tenantId, Name: name})
	if m.Impl.NextVersion != nil {
		return m.Impl.NextVersion(ctx, tenantId, name)
	}

	panic(errors.New("it should not be called"))
}

func (m *ComponentInterface) Record(ctx context.Context, component domain.PublishedComponent) error {
	m.Calls.Record = append(m.Calls.Record, component)
	if m.Impl.Record != nil {
		return m.Impl.Record(ctx, component)
	}

	panic(errors.New("it should not be called"))
}

func (m *ComponentInterface) Get(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
	m.Calls.Get = append(m.Calls.Get, struct {
		TenantId string
		Name     string
		Version  int
	}{TenantId: tenantId, Name: name, Version: version})
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, tenantId, name, version)
	}

	panic(errors.New("it should not be called"))
}

func (m *ComponentInterface) LatestOf(ctx context.Context, tenantId string, name string) (domain.PublishedComponent, error) {
	m.Calls.LatestOf = append(m.Calls.LatestOf, struct {
		TenantId string
		Name     string
	}{TenantId: tenantId, Name: name})
	if m.Impl.LatestOf != nil {
		return m.Impl.LatestOf(ctx, tenantId, name)
	}

	panic(errors.New("it should not be called"))
}

func (m *ComponentInterface) PreviousOf(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
	m.Calls.PreviousOf = append(m.Calls.PreviousOf, struct {
		TenantId string
		Name     string
		Version  int
	}{TenantId: tenantId, Name: name, Version: version})
	if m.Impl.PreviousOf != nil {
		return m.Impl.PreviousOf(ctx, tenantId, name, version)
	}

	panic(errors.New("it should not be called"))
}
