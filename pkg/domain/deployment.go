package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

type DeployStrategy string

const (
	// single rollout call to the whole device set.
	AllAtOnce DeployStrategy = "all-at-once"

	// rollout to a small subset first; the rest is gated on its failure rate.
	Canary DeployStrategy = "canary"

	// staged rollout in fixed percentage increments.
	Percentage DeployStrategy = "percentage"
)

func (ds DeployStrategy) String() string {
	return string(ds)
}

func AsDeployStrategy(s string) (DeployStrategy, error) {
	switch s {
	case string(AllAtOnce):
		return AllAtOnce, nil
	case string(Canary):
		return Canary, nil
	case string(Percentage):
		return Percentage, nil
	default:
		return "", fmt.Errorf("'%s' is not DeployStrategy", s)
	}
}

type DeviceState string

const (
	DevicePending   DeviceState = "pending"
	DeviceDeploying DeviceState = "deploying"
	DeviceSucceeded DeviceState = "succeeded"
	DeviceFailed    DeviceState = "failed"
)

func (ds DeviceState) Terminal() bool {
	return ds == DeviceSucceeded || ds == DeviceFailed
}

func AsDeviceState(s string) (DeviceState, error) {
	switch s {
	case string(DevicePending):
		return DevicePending, nil
	case string(DeviceDeploying):
		return DeviceDeploying, nil
	case string(DeviceSucceeded):
		return DeviceSucceeded, nil
	case string(DeviceFailed):
		return DeviceFailed, nil
	default:
		return "", fmt.Errorf("'%s' is not DeviceState", s)
	}
}

type DeploymentStatus string

const (
	// accepted, no rollout started yet.
	DeployPending DeploymentStatus = "pending"

	// rollout in flight. Partial device failures keep the deployment here;
	// only the strategy's threshold rule can fail it.
	DeployInProgress DeploymentStatus = "in-progress"

	// every device reached a terminal state within threshold. Terminal.
	DeploySucceeded DeploymentStatus = "succeeded"

	// the failure threshold was exceeded and an operator failed it, or the
	// external rollout itself failed. Terminal.
	DeployFailed DeploymentStatus = "failed"

	// superseded by a rollback deployment. Terminal.
	DeployRolledBack DeploymentStatus = "rolled-back"
)

func (ds DeploymentStatus) String() string {
	return string(ds)
}

func AsDeploymentStatus(s string) (DeploymentStatus, error) {
	switch s {
	case string(DeployPending):
		return DeployPending, nil
	case string(DeployInProgress):
		return DeployInProgress, nil
	case string(DeploySucceeded):
		return DeploySucceeded, nil
	case string(DeployFailed):
		return DeployFailed, nil
	case string(DeployRolledBack):
		return DeployRolledBack, nil
	default:
		return "", fmt.Errorf("'%s' is not DeploymentStatus", s)
	}
}

func (ds DeploymentStatus) Terminal() bool {
	switch ds {
	case DeploySucceeded, DeployFailed, DeployRolledBack:
		return true
	default:
		return false
	}
}

func (ds DeploymentStatus) CanTransitTo(next DeploymentStatus) bool {
	if ds.Terminal() {
		return false
	}
	switch ds {
	case DeployPending:
		return next == DeployInProgress || next == DeployFailed
	case DeployInProgress:
		return next == DeploySucceeded || next == DeployFailed || next == DeployRolledBack
	default:
		return false
	}
}

var ErrInvalidDeploymentStateChanging = errors.New("cannot change deployment state")

// the exact component version is already running on the whole device set.
var ErrAlreadyDeployed = errors.New("component version already deployed to all targets")

func NewErrInvalidDeploymentStateChanging(from, to DeploymentStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidDeploymentStateChanging, from, to)
}

// Core part of deployment.
type DeploymentBody struct {
	Id       string
	TenantId string

	ComponentName    string
	ComponentVersion int

	Strategy DeployStrategy

	// device/group ids the rollout targets.
	Targets []string

	Status DeploymentStatus

	// set when the strategy's failure threshold was exceeded mid-rollout.
	// The deployment stays in-progress for an operator decision.
	Halted bool

	// id of the deployment this one rolls back, if any.
	RollbackOf string

	// opaque handle of the rollout in the external deployment service.
	RolloutRef string

	// devices already included in the rollout. Grows per stage for canary
	// and percentage strategies.
	RolledOut int

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (db DeploymentBody) Equal(other DeploymentBody) bool {
	return db.Id == other.Id &&
		db.TenantId == other.TenantId &&
		db.ComponentName == other.ComponentName &&
		db.ComponentVersion == other.ComponentVersion &&
		db.Strategy == other.Strategy &&
		cmp.SliceEq(db.Targets, other.Targets) &&
		db.Status == other.Status &&
		db.Halted == other.Halted &&
		db.RollbackOf == other.RollbackOf &&
		db.RolloutRef == other.RolloutRef &&
		db.RolledOut == other.RolledOut
}

type Deployment struct {
	DeploymentBody

	// device id -> its state, for devices included in the rollout so far.
	DeviceStatus map[string]DeviceState
}

func (d Deployment) Equal(other Deployment) bool {
	return d.DeploymentBody.Equal(other.DeploymentBody) &&
		cmp.MapEq(d.DeviceStatus, other.DeviceStatus)
}

// failure rate over devices in a terminal state, or 0 when none are.
func (d Deployment) FailureRate() float64 {
	terminal := 0
	failed := 0
	for _, s := range d.DeviceStatus {
		if !s.Terminal() {
			continue
		}
		terminal += 1
		if s == DeviceFailed {
			failed += 1
		}
	}
	if terminal == 0 {
		return 0
	}
	return float64(failed) / float64(terminal)
}

// parameter to create a new deployment.
type DeploymentSpec struct {
	TenantId string

	ComponentName    string
	ComponentVersion int

	Strategy DeployStrategy
	Targets  []string

	// id of the deployment this one rolls back, if any.
	RollbackOf string

	CreatedBy string
}

type DeploymentCursor struct {
	// Id of deployment which is picked at last time
	Head string

	// interval to pick same deployment without changing status.
	Debounce time.Duration

	// status of deployment which is picked
	Status []DeploymentStatus
}

func (c DeploymentCursor) Equal(other DeploymentCursor) bool {
	return c.Head == other.Head &&
		cmp.SliceContentEq(c.Status, other.Status)
}

type DeploymentFindQuery struct {
	// match if deployment belongs to one of these tenants.
	//
	// If it is nil or empty, it means "match any".
	TenantId []string

	// match if deployment's status is one of these statuses.
	Status []DeploymentStatus
}

func (q DeploymentFindQuery) Equal(other DeploymentFindQuery) bool {
	return cmp.SliceContentEq(q.TenantId, other.TenantId) &&
		cmp.SliceContentEq(q.Status, other.Status)
}
