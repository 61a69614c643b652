package rollout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/recurring"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	kcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	kdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
)

const actor = "system:coordinator"

// Return initial DeploymentCursor value for task
func Seed(pollInterval time.Duration) domain.DeploymentCursor {
	return domain.DeploymentCursor{
		Status:   []domain.DeploymentStatus{domain.DeployPending, domain.DeployInProgress},
		Debounce: pollInterval,
	}
}

type followup func(context.Context)

// collaborators of the rollout loop.
type Deps struct {
	Deployment kdeployment.DeploymentInterface
	Tenant     ktenant.TenantInterface
	Component  kcomponent.ComponentInterface
	Audit      kaudit.AuditInterface

	Broker   *credential.Broker
	Rollout  extsvc.RolloutService
	Notifier extsvc.Notifier

	Recipients []string

	// canary stage size, in devices.
	CanarySize int

	// failure rate over terminal devices above which the rollout halts.
	FailureRateThreshold float64

	// percentage-strategy increment, in percent of the whole target set.
	PercentageStep int

	// minimum time a finished stage is observed before the next one starts.
	ObservationWindow time.Duration
}

// return:
//
// - task: drives pending and in-progress deployments. A pending deployment
// gets its first device increment rolled out per its strategy; an in-progress
// one is observed, advanced stage by stage, halted when the failure threshold
// is exceeded, and settled when every target is terminal.
func Task(logger *log.Logger, deps Deps) recurring.Task[domain.DeploymentCursor] {
	return func(ctx context.Context, value domain.DeploymentCursor) (domain.DeploymentCursor, bool, error) {
		var followups []followup
		var picked *domain.Deployment
		var decided domain.DeploymentStatus

		nextCursor, statusChanged, err := deps.Deployment.PickAndSetStatus(
			ctx, value,
			func(d domain.Deployment) (domain.DeploymentStatus, error) {
				picked = &d
				status, fs, err := step(ctx, d, deps)
				followups = fs
				decided = status
				return status, err
			},
		)

		for _, f := range followups {
			f(ctx)
		}

		if statusChanged && picked != nil {
			deps.Audit.Append(ctx, domain.AuditEvent{
				Subject:  actor,
				TenantId: picked.TenantId,
				Action:   "deployment.transition",
				Resource: fmt.Sprintf("deployment/%s: %s -> %s", picked.Id, picked.Status, decided),
				Outcome:  domain.OutcomeApplied,
			})
			if decided == domain.DeployFailed {
				deps.Notifier.Notify(ctx, extsvc.Event{
					TenantId:  picked.TenantId,
					Subject:   "deployment",
					Reference: picked.Id,
					Message:   fmt.Sprintf("deployment %s failed", picked.Id),
				}, deps.Recipients)
			}
		}

		curChanged := !value.Equal(nextCursor)

		if err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, domain.ErrInvalidDeploymentStateChanging) {
			return nextCursor, statusChanged || curChanged, nil
		}
		logger.Printf("rollout loop: %s", err)
		return nextCursor, statusChanged || curChanged, err
	}
}

func step(ctx context.Context, d domain.Deployment, deps Deps) (domain.DeploymentStatus, []followup, error) {
	switch d.Status {
	case domain.DeployPending:
		return start(ctx, d, deps)
	case domain.DeployInProgress:
		return observe(ctx, d, deps)
	}
	return d.Status, nil, nil
}

func start(ctx context.Context, d domain.Deployment, deps Deps) (domain.DeploymentStatus, []followup, error) {
	comp, sess, fail, err := prepare(ctx, d, deps)
	if err != nil {
		return d.Status, nil, err
	}
	if fail != nil {
		return domain.DeployFailed, []followup{fail}, nil
	}

	increment := firstIncrement(d, deps)
	ref, err := deps.Rollout.CreateRollout(ctx, sess, extsvc.RolloutSpec{
		TenantId:     d.TenantId,
		ComponentRef: comp.Ref,
		Devices:      increment,
	})
	if err != nil {
		return d.Status, nil, err
	}

	return domain.DeployInProgress, []followup{
		func(ctx context.Context) {
			deps.Deployment.MarkRolledOut(ctx, d.Id, increment)
			deps.Deployment.SetRolloutRef(ctx, d.Id, ref)
		},
	}, nil
}

func observe(ctx context.Context, d domain.Deployment, deps Deps) (domain.DeploymentStatus, []followup, error) {
	if d.Halted {
		// an operator decides: resume (halt resolved) or fail. Nothing to do
		// until then.
		return d.Status, nil, nil
	}

	if d.RolloutRef == "" {
		return restart(ctx, d, deps)
	}

	comp, sess, fail, err := prepare(ctx, d, deps)
	if err != nil {
		return d.Status, nil, err
	}
	if fail != nil {
		return domain.DeployFailed, []followup{fail}, nil
	}

	reports, err := deps.Rollout.GetStatus(ctx, sess, d.TenantId, d.RolloutRef)
	if err != nil {
		return d.Status, nil, err
	}

	// device rows live outside the deployment row lock, so they are written
	// in place. The fresh states drive this cycle's decision.
	states := map[string]domain.DeviceState{}
	for device, current := range d.DeviceStatus {
		states[device] = current
		report, ok := reports[device]
		if !ok || current.Terminal() || report.State == current {
			continue
		}
		if err := deps.Deployment.SetDeviceState(ctx, d.Id, device, report.State); err != nil {
			return d.Status, nil, err
		}
		states[device] = report.State
	}

	terminal, failed := 0, 0
	for _, s := range states {
		if !s.Terminal() {
			continue
		}
		terminal += 1
		if s == domain.DeviceFailed {
			failed += 1
		}
	}

	if 0 < terminal && deps.FailureRateThreshold < float64(failed)/float64(terminal) {
		return d.Status, []followup{halt(d, deps, failed, terminal)}, nil
	}

	if terminal < len(states) {
		// devices still deploying.
		return d.Status, nil, nil
	}

	remaining := notRolledOut(d)
	if len(remaining) == 0 {
		return domain.DeploySucceeded, nil, nil
	}

	if time.Since(d.UpdatedAt) < deps.ObservationWindow {
		return d.Status, nil, nil
	}

	next := nextIncrement(d, deps, remaining)
	ref, err := deps.Rollout.CreateRollout(ctx, sess, extsvc.RolloutSpec{
		TenantId:     d.TenantId,
		ComponentRef: comp.Ref,
		Devices:      next,
	})
	if err != nil {
		return d.Status, nil, err
	}

	return d.Status, []followup{
		func(ctx context.Context) {
			deps.Deployment.MarkRolledOut(ctx, d.Id, next)
			deps.Deployment.SetRolloutRef(ctx, d.Id, ref)
		},
	}, nil
}

// restart recreates a rollout lost between stage advance and SetRolloutRef.
func restart(ctx context.Context, d domain.Deployment, deps Deps) (domain.DeploymentStatus, []followup, error) {
	comp, sess, fail, err := prepare(ctx, d, deps)
	if err != nil {
		return d.Status, nil, err
	}
	if fail != nil {
		return domain.DeployFailed, []followup{fail}, nil
	}

	devices := []string{}
	for device, state := range d.DeviceStatus {
		if !state.Terminal() {
			devices = append(devices, device)
		}
	}
	mark := false
	if len(devices) == 0 {
		devices = firstIncrement(d, deps)
		mark = true
	}

	ref, err := deps.Rollout.CreateRollout(ctx, sess, extsvc.RolloutSpec{
		TenantId:     d.TenantId,
		ComponentRef: comp.Ref,
		Devices:      devices,
	})
	if err != nil {
		return d.Status, nil, err
	}

	return d.Status, []followup{
		func(ctx context.Context) {
			if mark {
				deps.Deployment.MarkRolledOut(ctx, d.Id, devices)
			}
			deps.Deployment.SetRolloutRef(ctx, d.Id, ref)
		},
	}, nil
}

// prepare resolves the tenant, its session, and the deployed component. The
// third return value, when not nil, is the followup auditing why the
// deployment fails.
func prepare(ctx context.Context, d domain.Deployment, deps Deps) (
	domain.PublishedComponent, *credential.Session, followup, error,
) {
	none := domain.PublishedComponent{}

	tenants, err := deps.Tenant.Get(ctx, []string{d.TenantId})
	if err != nil {
		return none, nil, nil, err
	}
	tenant, ok := tenants[d.TenantId]
	if !ok || tenant.Lifecycle == domain.TenantDeleted {
		return none, nil, abandon(d, deps, "tenant is gone"), nil
	}

	comp, err := deps.Component.Get(ctx, d.TenantId, d.ComponentName, d.ComponentVersion)
	if errors.Is(err, kerr.ErrMissing) {
		return none, nil, abandon(d, deps, fmt.Sprintf(
			"component %s version %d is not published", d.ComponentName, d.ComponentVersion,
		)), nil
	}
	if err != nil {
		return none, nil, nil, err
	}

	sess, err := deps.Broker.Obtain(ctx, tenant)
	if err != nil {
		return none, nil, nil, err
	}
	return comp, sess, nil, nil
}

func abandon(d domain.Deployment, deps Deps, reason string) followup {
	return func(ctx context.Context) {
		deps.Audit.Append(ctx, domain.AuditEvent{
			Subject:  actor,
			TenantId: d.TenantId,
			Action:   "deployment.abandon",
			Resource: fmt.Sprintf("deployment/%s: %s", d.Id, reason),
			Outcome:  domain.OutcomeApplied,
		})
	}
}

func halt(d domain.Deployment, deps Deps, failed int, terminal int) followup {
	return func(ctx context.Context) {
		deps.Deployment.SetHalted(ctx, d.Id, true)
		deps.Audit.Append(ctx, domain.AuditEvent{
			Subject:  actor,
			TenantId: d.TenantId,
			Action:   "deployment.halt",
			Resource: fmt.Sprintf("deployment/%s: %d of %d devices failed", d.Id, failed, terminal),
			Outcome:  domain.OutcomeApplied,
		})
		deps.Notifier.Notify(ctx, extsvc.Event{
			TenantId:  d.TenantId,
			Subject:   "deployment",
			Reference: d.Id,
			Message: fmt.Sprintf(
				"deployment %s halted: failure rate %d/%d exceeds threshold",
				d.Id, failed, terminal,
			),
		}, deps.Recipients)
	}
}

// firstIncrement names the devices of the opening stage.
func firstIncrement(d domain.Deployment, deps Deps) []string {
	switch d.Strategy {
	case domain.Canary:
		size := deps.CanarySize
		if size < 1 {
			size = 1
		}
		if len(d.Targets) < size {
			size = len(d.Targets)
		}
		return d.Targets[:size]
	case domain.Percentage:
		return d.Targets[:percentageSize(len(d.Targets), deps.PercentageStep)]
	default:
		return d.Targets
	}
}

// nextIncrement names the devices of the following stage. The canary, once
// healthy, opens the gate to everything left.
func nextIncrement(d domain.Deployment, deps Deps, remaining []string) []string {
	if d.Strategy == domain.Percentage {
		size := percentageSize(len(d.Targets), deps.PercentageStep)
		if len(remaining) < size {
			size = len(remaining)
		}
		return remaining[:size]
	}
	return remaining
}

func percentageSize(total int, step int) int {
	size := (total*step + 99) / 100
	if size < 1 {
		size = 1
	}
	if total < size {
		size = total
	}
	return size
}

// notRolledOut lists targets not yet included in any stage, in target order.
func notRolledOut(d domain.Deployment) []string {
	remaining := []string{}
	for _, t := range d.Targets {
		if _, ok := d.DeviceStatus[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	return remaining
}
