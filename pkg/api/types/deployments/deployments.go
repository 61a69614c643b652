package deployments

import (
	"github.com/fleetforge/fleetforge/pkg/domain"
	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
)

type Summary struct {
	DeploymentId     string          `json:"deploymentId"`
	TenantId         string          `json:"tenantId"`
	ComponentName    string          `json:"componentName"`
	ComponentVersion int             `json:"componentVersion"`
	Strategy         string          `json:"strategy"`
	Status           string          `json:"status"`
	Halted           bool            `json:"halted"`
	UpdatedAt        rfctime.RFC3339 `json:"updatedAt"`
}

func ComposeSummary(d domain.DeploymentBody) Summary {
	return Summary{
		DeploymentId:     d.Id,
		TenantId:         d.TenantId,
		ComponentName:    d.ComponentName,
		ComponentVersion: d.ComponentVersion,
		Strategy:         d.Strategy.String(),
		Status:           d.Status.String(),
		Halted:           d.Halted,
		UpdatedAt:        rfctime.RFC3339(d.UpdatedAt),
	}
}

func (s *Summary) Equal(o *Summary) bool {
	if s == nil || o == nil {
		return (s == nil) && (o == nil)
	}
	return s.DeploymentId == o.DeploymentId &&
		s.TenantId == o.TenantId &&
		s.ComponentName == o.ComponentName &&
		s.ComponentVersion == o.ComponentVersion &&
		s.Strategy == o.Strategy &&
		s.Status == o.Status &&
		s.Halted == o.Halted &&
		s.UpdatedAt.Equal(&o.UpdatedAt)
}

type Detail struct {
	Summary
	Targets []string `json:"targets"`

	// device id -> state, devices included in the rollout so far.
	Devices map[string]string `json:"devices"`

	RollbackOf string `json:"rollbackOf,omitempty"`
	CreatedBy  string `json:"createdBy"`
}

func ComposeDetail(d domain.Deployment) Detail {
	devices := map[string]string{}
	for device, state := range d.DeviceStatus {
		devices[device] = string(state)
	}
	return Detail{
		Summary:    ComposeSummary(d.DeploymentBody),
		Targets:    d.Targets,
		Devices:    devices,
		RollbackOf: d.RollbackOf,
		CreatedBy:  d.CreatedBy,
	}
}

func (d *Detail) Equal(o *Detail) bool {
	if d == nil || o == nil {
		return (d == nil) && (o == nil)
	}
	return d.Summary.Equal(&o.Summary) &&
		cmp.SliceEq(d.Targets, o.Targets) &&
		cmp.MapEq(d.Devices, o.Devices) &&
		d.RollbackOf == o.RollbackOf &&
		d.CreatedBy == o.CreatedBy
}

// request body of deployment creation.
type CreateSpec struct {
	ComponentName    string   `json:"componentName"`
	ComponentVersion int      `json:"componentVersion"`
	Strategy         string   `json:"strategy"`
	Targets          []string `json:"targets"`
}

// request body of a halt decision. Resume lifts the halt and lets the rollout
// continue; fail closes the deployment.
type HaltDecision struct {
	Action string `json:"action"`
}

const (
	HaltActionResume = "resume"
	HaltActionFail   = "fail"
)
