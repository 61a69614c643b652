package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
)

type CallLog[T any] []T

func (c CallLog[T]) Times() int {
	return len(c)
}

type JobService struct {
	Impl struct {
		Submit func(ctx context.Context, sess *credential.Session, sub extsvc.Submission) (string, error)
		Poll   func(ctx context.Context, sess *credential.Session, tenantId string, externalRef string) (extsvc.Report, error)
	}

	Calls struct {
		Submit CallLog[extsvc.Submission]
		Poll   CallLog[struct {
			TenantId    string
			ExternalRef string
		}]
	}
}

func NewJobService() *JobService {
	return &JobService{}
}

var _ extsvc.JobService = &JobService{}

func (m *JobService) Submit(ctx context.Context, sess *credential.Session, sub extsvc.Submission) (string, error) {
	m.Calls.Submit = append(m.Calls.Submit, sub)
	if m.Impl.Submit != nil {
		return m.Impl.Submit(ctx, sess, sub)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobService) Poll(ctx context.Context, sess *credential.Session, tenantId string, externalRef string) (extsvc.Report, error) {
	m.Calls.Poll = append(m.Calls.Poll, struct {
		TenantId    string
		ExternalRef string
	}{TenantId: tenantId, ExternalRef: externalRef})
	if m.Impl.Poll != nil {
		return m.Impl.Poll(ctx, sess, tenantId, externalRef)
	}

	panic(errors.New("it should not be called"))
}

type RolloutService struct {
	Impl struct {
		CreateRollout func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error)
		GetStatus     func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error)
		Cancel        func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) error
	}

	Calls struct {
		CreateRollout CallLog[extsvc.RolloutSpec]
		GetStatus     CallLog[struct {
			TenantId   string
			RolloutRef string
		}]
		Cancel CallLog[struct {
			TenantId   string
			RolloutRef string
		}]
	}
}

func NewRolloutService() *RolloutService {
	return &RolloutService{}
}

var _ extsvc.RolloutService = &RolloutService{}

func (m *RolloutService) CreateRollout(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
	m.Calls.CreateRollout = append(m.Calls.CreateRollout, spec)
	if m.Impl.CreateRollout != nil {
		return m.Impl.CreateRollout(ctx, sess, spec)
	}

	panic(errors.New("it should not be called"))
}

func (m *RolloutService) GetStatus(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
	m.Calls.GetStatus = append(m.Calls.GetStatus, struct {
		TenantId   string
		RolloutRef string
	}{TenantId: tenantId, RolloutRef: rolloutRef})
	if m.Impl.GetStatus != nil {
		return m.Impl.GetStatus(ctx, sess, tenantId, rolloutRef)
	}

	panic(errors.New("it should not be called"))
}

func (m *RolloutService) Cancel(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) error {
	m.Calls.Cancel = append(m.Calls.Cancel, struct {
		TenantId   string
		RolloutRef string
	}{TenantId: tenantId, RolloutRef: rolloutRef})
	if m.Impl.Cancel != nil {
		return m.Impl.Cancel(ctx, sess, tenantId, rolloutRef)
	}

	panic(errors.New("it should not be called"))
}

type Notifier struct {
	Impl struct {
		Notify func(ctx context.Context, event extsvc.Event, recipients []string) error
	}

	Calls struct {
		Notify CallLog[extsvc.Event]
	}
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

var _ extsvc.Notifier = &Notifier{}

func (m *Notifier) Notify(ctx context.Context, event extsvc.Event, recipients []string) error {
	m.Calls.Notify = append(m.Calls.Notify, event)
	if m.Impl.Notify != nil {
		return m.Impl.Notify(ctx, event, recipients)
	}

	panic(errors.New("it should not be called"))
}
