package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
)

type DeploymentInterface struct {
	Impl struct {
		New              func(ctx context.Context, spec domain.DeploymentSpec) (string, error)
		Get              func(ctx context.Context, ids []string) (map[string]domain.Deployment, error)
		Find             func(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error)
		SetStatus        func(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error
		SetRolloutRef    func(ctx context.Context, deploymentId string, rolloutRef string) error
		SetHalted        func(ctx context.Context, deploymentId string, halted bool) error
		MarkRolledOut    func(ctx context.Context, deploymentId string, devices []string) error
		SetDeviceState   func(ctx context.Context, deploymentId string, device string, state domain.DeviceState) error
		PickAndSetStatus func(ctx context.Context, cursor domain.DeploymentCursor, task func(domain.Deployment) (domain.DeploymentStatus, error)) (domain.DeploymentCursor, bool, error)
	}

	Calls struct {
		New       dbmock.CallLog[domain.DeploymentSpec]
		Get       dbmock.CallLog[[]string]
		Find      dbmock.CallLog[domain.DeploymentFindQuery]
		SetStatus dbmock.CallLog[struct {
			DeploymentId string
			NewStatus    domain.DeploymentStatus
		}]
		SetRolloutRef dbmock.CallLog[struct {
			DeploymentId string
			RolloutRef   string
		}]
		SetHalted dbmock.CallLog[struct {
			DeploymentId string
			Halted       bool
		}]
		MarkRolledOut dbmock.CallLog[struct {
			DeploymentId string
			Devices      []string
		}]
		SetDeviceState dbmock.CallLog[struct {
			DeploymentId string
			Device       string
			State        domain.DeviceState
		}]
		PickAndSetStatus dbmock.CallLog[domain.DeploymentCursor]
	}
}

func NewDeploymentInterface() *DeploymentInterface {
	return &DeploymentInterface{}
}

var _ kdb.DeploymentInterface = &DeploymentInterface{}

func (m *DeploymentInterface) New(ctx context.Context, spec domain.DeploymentSpec) (string, error) {
	m.Calls.New = append(m.Calls.New, spec)
	if m.Impl.New != nil {
		return m.Impl.New(ctx, spec)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) Get(ctx context.Context, ids []string) (map[string]domain.Deployment, error) {
	m.Calls.Get = append(m.Calls.Get, ids)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, ids)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) Find(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error) {
	m.Calls.Find = append(m.Calls.Find, query)
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx, query)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetStatus(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
	m.Calls.SetStatus = append(m.Calls.SetStatus, struct {
		DeploymentId string
		NewStatus    domain.DeploymentStatus
	}{DeploymentId: deploymentId, NewStatus: newStatus})
	if m.Impl.SetStatus != nil {
		return m.Impl.SetStatus(ctx, deploymentId, newStatus)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetRolloutRef(ctx context.Context, deploymentId string, rolloutRef string) error {
	m.Calls.SetRolloutRef = append(m.Calls.SetRolloutRef, struct {
		DeploymentId string
		RolloutRef   string
	}{DeploymentId: deploymentId, RolloutRef: rolloutRef})
	if m.Impl.SetRolloutRef != nil {
		return m.Impl.SetRolloutRef(ctx, deploymentId, rolloutRef)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetHalted(ctx context.Context, deploymentId string, halted bool) error {
	m.Calls.SetHalted = append(m.Calls.SetHalted, struct {
		DeploymentId string
		Halted       bool
	}{DeploymentId: deploymentId, Halted: halted})
	if m.Impl.SetHalted != nil {
		return m.Impl.SetHalted(ctx, deploymentId, halted)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) MarkRolledOut(ctx context.Context, deploymentId string, devices []string) error {
	m.Calls.MarkRolledOut = append(m.Calls.MarkRolledOut, struct {
		DeploymentId string
		Devices      []string
	}{DeploymentId: deploymentId, Devices: devices})
	if m.Impl.MarkRolledOut != nil {
		return m.Impl.MarkRolledOut(ctx, deploymentId, devices)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) SetDeviceState(ctx context.Context, deploymentId string, device string, state domain.DeviceState) error {
	m.Calls.SetDeviceState = append(m.Calls.SetDeviceState, struct {
		DeploymentId string
		Device       string
		State        domain.DeviceState
	}{DeploymentId: deploymentId, Device: device, State: state})
	if m.Impl.SetDeviceState != nil {
		return m.Impl.SetDeviceState(ctx, deploymentId, device, state)
	}

	panic(errors.New("it should not be called"))
}

func (m *DeploymentInterface) PickAndSetStatus(
	ctx context.Context,
	cursor domain.DeploymentCursor,
	task func(domain.Deployment) (domain.DeploymentStatus, error),
) (domain.DeploymentCursor, bool, error) {
	m.Calls.PickAndSetStatus = append(m.Calls.PickAndSetStatus, cursor)
	if m.Impl.PickAndSetStatus != nil {
		return m.Impl.PickAndSetStatus(ctx, cursor, task)
	}

	panic(errors.New("it should not be called"))
}
