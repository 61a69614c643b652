package rollout_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/tasks/rollout"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	mockaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db/mock"
	mockcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db/mock"
	mockdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db/mock"
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	mocktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db/mock"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	mockextsvc "github.com/fleetforge/fleetforge/pkg/extsvc/mock"
	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

type staticIssuer struct{}

func (staticIssuer) Issue(ctx context.Context, tenant domain.Tenant) (credential.Token, error) {
	return credential.Token{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func logger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var tenantA = domain.Tenant{
	Id:         "tenant-a",
	TrustScope: domain.TrustScope{ExternalId: "ext", Version: 1},
	Lifecycle:  domain.TenantActive,
}

var componentA = domain.PublishedComponent{
	TenantId: "tenant-a",
	Name:     "detector",
	Version:  3,
	Ref:      "component-ref-3",
}

type harness struct {
	deployment *mockdeployment.DeploymentInterface
	tenant     *mocktenant.TenantInterface
	component  *mockcomponent.ComponentInterface
	audit      *mockaudit.AuditInterface
	service    *mockextsvc.RolloutService
	notifier   *mockextsvc.Notifier
	decided    domain.DeploymentStatus
}

func newHarness(picked domain.Deployment) *harness {
	h := &harness{
		deployment: mockdeployment.NewDeploymentInterface(),
		tenant:     mocktenant.NewTenantInterface(),
		component:  mockcomponent.NewComponentInterface(),
		audit:      mockaudit.NewAuditInterface(),
		service:    mockextsvc.NewRolloutService(),
		notifier:   mockextsvc.NewNotifier(),
		decided:    picked.Status,
	}

	h.deployment.Impl.PickAndSetStatus = func(
		ctx context.Context, value domain.DeploymentCursor,
		f func(domain.Deployment) (domain.DeploymentStatus, error),
	) (domain.DeploymentCursor, bool, error) {
		status, err := f(picked)
		if err != nil {
			return value, false, err
		}
		h.decided = status
		return value, status != picked.Status, nil
	}
	h.deployment.Impl.MarkRolledOut = func(ctx context.Context, deploymentId string, devices []string) error {
		return nil
	}
	h.deployment.Impl.SetRolloutRef = func(ctx context.Context, deploymentId string, rolloutRef string) error {
		return nil
	}
	h.deployment.Impl.SetHalted = func(ctx context.Context, deploymentId string, halted bool) error {
		return nil
	}
	h.deployment.Impl.SetDeviceState = func(ctx context.Context, deploymentId string, device string, state domain.DeviceState) error {
		return nil
	}

	h.tenant.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
		return map[string]domain.Tenant{tenantA.Id: tenantA}, nil
	}
	h.component.Impl.Get = func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
		return componentA, nil
	}
	h.audit.Impl.Append = func(ctx context.Context, event domain.AuditEvent) (int64, error) {
		return 1, nil
	}
	h.notifier.Impl.Notify = func(ctx context.Context, event extsvc.Event, recipients []string) error {
		return nil
	}

	return h
}

func (h *harness) deps() rollout.Deps {
	return rollout.Deps{
		Deployment:           h.deployment,
		Tenant:               h.tenant,
		Component:            h.component,
		Audit:                h.audit,
		Broker:               credential.NewBroker(staticIssuer{}, 0.8, 0),
		Rollout:              h.service,
		Notifier:             h.notifier,
		CanarySize:           2,
		FailureRateThreshold: 0.25,
		PercentageStep:       50,
		ObservationWindow:    10 * time.Minute,
	}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	testee := rollout.Task(logger(), h.deps())
	if _, _, err := testee(context.Background(), rollout.Seed(3*time.Second)); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
}

func pending(strategy domain.DeployStrategy, targets ...string) domain.Deployment {
	return domain.Deployment{
		DeploymentBody: domain.DeploymentBody{
			Id: "deploy-1", TenantId: "tenant-a",
			ComponentName: "detector", ComponentVersion: 3,
			Strategy: strategy,
			Targets:  targets,
			Status:   domain.DeployPending,
		},
	}
}

func TestTask_Start(t *testing.T) {

	t.Run("all-at-once opens with the whole device set", func(t *testing.T) {
		h := newHarness(pending(domain.AllAtOnce, "dev-1", "dev-2", "dev-3"))
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-1", nil
		}

		h.run(t)

		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}

		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		spec := h.service.Calls.CreateRollout[0]
		if spec.ComponentRef != "component-ref-3" {
			t.Errorf("unexpected component ref: %s", spec.ComponentRef)
		}
		if !cmp.SliceEq(spec.Devices, []string{"dev-1", "dev-2", "dev-3"}) {
			t.Errorf("unexpected devices: %+v", spec.Devices)
		}

		if h.deployment.Calls.MarkRolledOut.Times() != 1 {
			t.Errorf("MarkRolledOut: called %d times", h.deployment.Calls.MarkRolledOut.Times())
		}
		if h.deployment.Calls.SetRolloutRef.Times() != 1 {
			t.Fatalf("SetRolloutRef: called %d times", h.deployment.Calls.SetRolloutRef.Times())
		}
		if actual := h.deployment.Calls.SetRolloutRef[0]; actual.RolloutRef != "rollout-ref-1" {
			t.Errorf("unexpected rollout ref: %+v", actual)
		}
	})

	t.Run("canary opens with the canary subset only", func(t *testing.T) {
		h := newHarness(pending(domain.Canary, "dev-1", "dev-2", "dev-3", "dev-4", "dev-5"))
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-1", nil
		}

		h.run(t)

		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		if spec := h.service.Calls.CreateRollout[0]; !cmp.SliceEq(spec.Devices, []string{"dev-1", "dev-2"}) {
			t.Errorf("unexpected canary: %+v", spec.Devices)
		}
	})

	t.Run("percentage opens with the first increment, at least one device", func(t *testing.T) {
		h := newHarness(pending(domain.Percentage, "dev-1", "dev-2", "dev-3"))
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-1", nil
		}

		h.run(t)

		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		// 50% of 3 devices rounds up to 2.
		if spec := h.service.Calls.CreateRollout[0]; !cmp.SliceEq(spec.Devices, []string{"dev-1", "dev-2"}) {
			t.Errorf("unexpected increment: %+v", spec.Devices)
		}
	})

	t.Run("a deployment of an unpublished component fails", func(t *testing.T) {
		h := newHarness(pending(domain.AllAtOnce, "dev-1"))
		h.component.Impl.Get = func(ctx context.Context, tenantId string, name string, version int) (domain.PublishedComponent, error) {
			return domain.PublishedComponent{}, kerr.ErrMissing
		}

		h.run(t)

		if h.decided != domain.DeployFailed {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.service.Calls.CreateRollout.Times() != 0 {
			t.Errorf("unexpected rollout: %+v", h.service.Calls.CreateRollout)
		}
		if h.notifier.Calls.Notify.Times() != 1 {
			t.Errorf("notifications sent: %d", h.notifier.Calls.Notify.Times())
		}
	})
}

func TestTask_Observe(t *testing.T) {

	inProgress := func(strategy domain.DeployStrategy, targets []string, states map[string]domain.DeviceState) domain.Deployment {
		return domain.Deployment{
			DeploymentBody: domain.DeploymentBody{
				Id: "deploy-1", TenantId: "tenant-a",
				ComponentName: "detector", ComponentVersion: 3,
				Strategy:   strategy,
				Targets:    targets,
				Status:     domain.DeployInProgress,
				RolloutRef: "rollout-ref-1",
				UpdatedAt:  time.Now().Add(-time.Hour),
			},
			DeviceStatus: states,
		}
	}

	t.Run("device states are refreshed from the external service", func(t *testing.T) {
		h := newHarness(inProgress(
			domain.AllAtOnce,
			[]string{"dev-1", "dev-2"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceDeploying,
				"dev-2": domain.DeviceSucceeded,
			},
		))
		h.service.Impl.GetStatus = func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
			return map[string]extsvc.DeviceReport{
				"dev-1": {State: domain.DeviceSucceeded},
				"dev-2": {State: domain.DeviceSucceeded},
			}, nil
		}

		h.run(t)

		if h.decided != domain.DeploySucceeded {
			t.Errorf("unexpected status: %s", h.decided)
		}
		// dev-2 was already terminal; only dev-1 moved.
		if h.deployment.Calls.SetDeviceState.Times() != 1 {
			t.Fatalf("SetDeviceState: called %d times", h.deployment.Calls.SetDeviceState.Times())
		}
		actual := h.deployment.Calls.SetDeviceState[0]
		if actual.Device != "dev-1" || actual.State != domain.DeviceSucceeded {
			t.Errorf("unexpected device state: %+v", actual)
		}
	})

	t.Run("a failure rate above the threshold halts the deployment", func(t *testing.T) {
		h := newHarness(inProgress(
			domain.AllAtOnce,
			[]string{"dev-1", "dev-2", "dev-3"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceFailed,
				"dev-2": domain.DeviceSucceeded,
				"dev-3": domain.DeviceDeploying,
			},
		))
		h.service.Impl.GetStatus = func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
			return map[string]extsvc.DeviceReport{
				"dev-1": {State: domain.DeviceFailed, Reason: "flash error"},
				"dev-2": {State: domain.DeviceSucceeded},
				"dev-3": {State: domain.DeviceDeploying},
			}, nil
		}

		h.run(t)

		// halted, not failed: the deployment stays for an operator decision.
		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.deployment.Calls.SetHalted.Times() != 1 {
			t.Fatalf("SetHalted: called %d times", h.deployment.Calls.SetHalted.Times())
		}
		if actual := h.deployment.Calls.SetHalted[0]; !actual.Halted {
			t.Errorf("unexpected halt: %+v", actual)
		}
		if h.notifier.Calls.Notify.Times() != 1 {
			t.Errorf("notifications sent: %d", h.notifier.Calls.Notify.Times())
		}
		if h.audit.Calls.Append.Times() != 1 {
			t.Errorf("audit events appended: %d", h.audit.Calls.Append.Times())
		}
	})

	t.Run("a halted deployment is left alone", func(t *testing.T) {
		d := inProgress(
			domain.AllAtOnce,
			[]string{"dev-1"},
			map[string]domain.DeviceState{"dev-1": domain.DeviceFailed},
		)
		d.Halted = true

		h := newHarness(d)

		h.run(t)

		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.service.Calls.GetStatus.Times() != 0 {
			t.Errorf("unexpected GetStatus: %+v", h.service.Calls.GetStatus)
		}
	})

	t.Run("a healthy canary opens the gate to everything left", func(t *testing.T) {
		h := newHarness(inProgress(
			domain.Canary,
			[]string{"dev-1", "dev-2", "dev-3", "dev-4", "dev-5"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceSucceeded,
				"dev-2": domain.DeviceSucceeded,
			},
		))
		h.service.Impl.GetStatus = func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
			return map[string]extsvc.DeviceReport{
				"dev-1": {State: domain.DeviceSucceeded},
				"dev-2": {State: domain.DeviceSucceeded},
			}, nil
		}
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-2", nil
		}

		h.run(t)

		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		if spec := h.service.Calls.CreateRollout[0]; !cmp.SliceEq(spec.Devices, []string{"dev-3", "dev-4", "dev-5"}) {
			t.Errorf("unexpected increment: %+v", spec.Devices)
		}
		if h.deployment.Calls.SetRolloutRef.Times() != 1 {
			t.Fatalf("SetRolloutRef: called %d times", h.deployment.Calls.SetRolloutRef.Times())
		}
		if actual := h.deployment.Calls.SetRolloutRef[0]; actual.RolloutRef != "rollout-ref-2" {
			t.Errorf("unexpected rollout ref: %+v", actual)
		}
	})

	t.Run("percentage advances one increment at a time", func(t *testing.T) {
		h := newHarness(inProgress(
			domain.Percentage,
			[]string{"dev-1", "dev-2", "dev-3", "dev-4"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceSucceeded,
				"dev-2": domain.DeviceSucceeded,
			},
		))
		h.service.Impl.GetStatus = func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
			return map[string]extsvc.DeviceReport{
				"dev-1": {State: domain.DeviceSucceeded},
				"dev-2": {State: domain.DeviceSucceeded},
			}, nil
		}
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-2", nil
		}

		h.run(t)

		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		if spec := h.service.Calls.CreateRollout[0]; !cmp.SliceEq(spec.Devices, []string{"dev-3", "dev-4"}) {
			t.Errorf("unexpected increment: %+v", spec.Devices)
		}
	})

	t.Run("a finished stage waits out the observation window", func(t *testing.T) {
		d := inProgress(
			domain.Canary,
			[]string{"dev-1", "dev-2", "dev-3"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceSucceeded,
				"dev-2": domain.DeviceSucceeded,
			},
		)
		d.UpdatedAt = time.Now()

		h := newHarness(d)
		h.service.Impl.GetStatus = func(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]extsvc.DeviceReport, error) {
			return map[string]extsvc.DeviceReport{
				"dev-1": {State: domain.DeviceSucceeded},
				"dev-2": {State: domain.DeviceSucceeded},
			}, nil
		}

		h.run(t)

		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.service.Calls.CreateRollout.Times() != 0 {
			t.Errorf("unexpected rollout: %+v", h.service.Calls.CreateRollout)
		}
	})

	t.Run("a lost rollout reference is recreated for non-terminal devices", func(t *testing.T) {
		d := inProgress(
			domain.AllAtOnce,
			[]string{"dev-1", "dev-2"},
			map[string]domain.DeviceState{
				"dev-1": domain.DeviceSucceeded,
				"dev-2": domain.DeviceDeploying,
			},
		)
		d.RolloutRef = ""

		h := newHarness(d)
		h.service.Impl.CreateRollout = func(ctx context.Context, sess *credential.Session, spec extsvc.RolloutSpec) (string, error) {
			return "rollout-ref-2", nil
		}

		h.run(t)

		if h.decided != domain.DeployInProgress {
			t.Errorf("unexpected status: %s", h.decided)
		}
		if h.service.Calls.CreateRollout.Times() != 1 {
			t.Fatalf("CreateRollout: called %d times", h.service.Calls.CreateRollout.Times())
		}
		if spec := h.service.Calls.CreateRollout[0]; !cmp.SliceEq(spec.Devices, []string{"dev-2"}) {
			t.Errorf("unexpected devices: %+v", spec.Devices)
		}
		// the increment was already marked; only the reference is restored.
		if h.deployment.Calls.MarkRolledOut.Times() != 0 {
			t.Errorf("unexpected MarkRolledOut: %+v", h.deployment.Calls.MarkRolledOut)
		}
		if h.deployment.Calls.SetRolloutRef.Times() != 1 {
			t.Errorf("SetRolloutRef: called %d times", h.deployment.Calls.SetRolloutRef.Times())
		}
	})
}
