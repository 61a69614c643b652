package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type DeploymentInterface interface {
	// New creates a deployment in status "pending" with one pending device
	// row per target.
	//
	// Validation done here, in one transaction:
	//
	//   - the referenced component version must exist (ErrMissing otherwise);
	//
	//   - the exact version must not already be running on 100% of the same
	//     device set (ErrAlreadyDeployed, the no-op guard).
	New(ctx context.Context, spec domain.DeploymentSpec) (string, error)

	// Get deployments by ids, with their per-device status maps.
	// Missing ids are left out of the map, not an error.
	Get(ctx context.Context, ids []string) (map[string]domain.Deployment, error)

	// Find ids of deployments matching query, ordered by update time.
	Find(ctx context.Context, query domain.DeploymentFindQuery) ([]string, error)

	// SetStatus updates deployment status.
	//
	// Returns ErrInvalidDeploymentStateChanging when the new status is not a
	// legal successor, ErrMissing when the deployment is not found.
	SetStatus(ctx context.Context, deploymentId string, newStatus domain.DeploymentStatus) error

	// SetRolloutRef stores the external rollout handle.
	SetRolloutRef(ctx context.Context, deploymentId string, rolloutRef string) error

	// SetHalted flags (or unflags) a deployment for operator action.
	SetHalted(ctx context.Context, deploymentId string, halted bool) error

	// MarkRolledOut marks devices as included in the rollout and moves them
	// to "deploying". Used per stage by canary/percentage strategies.
	MarkRolledOut(ctx context.Context, deploymentId string, devices []string) error

	// SetDeviceState updates one device's state.
	SetDeviceState(ctx context.Context, deploymentId string, device string, state domain.DeviceState) error

	// PickAndSetStatus picks the next deployment of cursor and changes its
	// status to the return value of task. Same contract as the job variant:
	// the picked row is locked for the duration of task.
	PickAndSetStatus(ctx context.Context, cursor domain.DeploymentCursor, task func(domain.Deployment) (domain.DeploymentStatus, error)) (domain.DeploymentCursor, bool, error)
}
