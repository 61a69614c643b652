package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
)

type TenantInterface struct {
	Impl struct {
		Register         func(ctx context.Context, spec domain.TenantSpec) (string, error)
		Get              func(ctx context.Context, ids []string) (map[string]domain.Tenant, error)
		Find             func(ctx context.Context) ([]string, error)
		UpdateStorage    func(ctx context.Context, id string, storage []domain.StorageLocation) error
		RotateTrustScope func(ctx context.Context, id string, newExternalId string) (int, error)
		Delete           func(ctx context.Context, id string) error
	}

	Calls struct {
		Register      dbmock.CallLog[domain.TenantSpec]
		Get           dbmock.CallLog[[]string]
		Find          dbmock.CallLog[struct{}]
		UpdateStorage dbmock.CallLog[struct {
			Id      string
			Storage []domain.StorageLocation
		}]
		RotateTrustScope dbmock.CallLog[struct {
			Id            string
			NewExternalId string
		}]
		Delete dbmock.CallLog[string]
	}
}

func NewTenantInterface() *TenantInterface {
	return &TenantInterface{}
}

var _ kdb.TenantInterface = &TenantInterface{}

func (m *TenantInterface) Register(ctx context.Context, spec domain.TenantSpec) (string, error) {
	m.Calls.Register = append(m.Calls.Register, spec)
	if m.Impl.Register != nil {
		return m.Impl.Register(ctx, spec)
	}

	panic(errors.New("it should not be called"))
}

func (m *TenantInterface) Get(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
	m.Calls.Get = append(m.Calls.Get, ids)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, ids)
	}

	panic(errors.New("it should not be called"))
}

func (m *TenantInterface) Find(ctx context.Context) ([]string, error) {
	m.Calls.Find = append(m.Calls.Find, struct{}{})
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx)
	}

	panic(errors.New("it should not be called"))
}

func (m *TenantInterface) UpdateStorage(ctx context.Context, id string, storage []domain.StorageLocation) error {
	m.Calls.UpdateStorage = append(m.Calls.UpdateStorage, struct {
		Id      string
		Storage []domain.StorageLocation
	}{Id: id, Storage: storage})
	if m.Impl.UpdateStorage != nil {
		return m.Impl.UpdateStorage(ctx, id, storage)
	}

	panic(errors.New("it should not be called"))
}

func (m *TenantInterface) RotateTrustScope(ctx context.Context, id string, newExternalId string) (int, error) {
	m.Calls.RotateTrustScope = append(m.Calls.RotateTrustScope, struct {
		Id            string
		NewExternalId string
	}{Id: id, NewExternalId: newExternalId})
	if m.Impl.RotateTrustScope != nil {
		return m.Impl.RotateTrustScope(ctx, id, newExternalId)
	}

	panic(errors.New("it should not be called"))
}

func (m *TenantInterface) Delete(ctx context.Context, id string) error {
	m.Calls.Delete = append(m.Calls.Delete, id)
	if m.Impl.Delete != nil {
		return m.Impl.Delete(ctx, id)
	}

	panic(errors.New("it should not be called"))
}
