// Package extsvc holds the boundary to the external collaborators: the
// asynchronous job services (labeling, training, compilation, packaging,
// publishing), the device deployment service, and the notification channel.
//
// Everything here takes a *credential.Session next to the tenant id, so the
// session/tenant binding is checked at the boundary, not by caller discipline.
package extsvc

import (
	"context"
	"fmt"

	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
)

// Capability names one of the asynchronous job service roles. Multiple
// concrete services may implement the same capability; the registry decides
// which one serves it.
type Capability string

const (
	CapLabeling    Capability = "labeling"
	CapTraining    Capability = "training"
	CapCompilation Capability = "compilation"
	CapPackaging   Capability = "packaging"
	CapPublishing  Capability = "publishing"
)

// Submission is the payload handed to a job service. Which fields matter
// depends on the capability; the rest stay zero.
type Submission struct {
	TenantId string
	JobId    string

	// dataset or model location in the tenant's storage.
	InputLocation string

	// compile fan-out only.
	TargetName string
	Platform   string

	// packaging only: artifact locations of the succeeded targets.
	ArtifactLocations []string

	// publishing only.
	ComponentName string
	PackageRef    string
}

// Report is a poll result. Outcome is meaningful only when Done.
type Report struct {
	Done    bool
	Outcome domain.CompletionOutcome
}

type JobService interface {
	// Submit starts an external job and returns its opaque reference.
	Submit(ctx context.Context, sess *credential.Session, sub Submission) (string, error)

	// Poll reads the current state of a submitted job.
	Poll(ctx context.Context, sess *credential.Session, tenantId string, externalRef string) (Report, error)
}

// Registry maps capabilities to the job service serving them.
type Registry struct {
	services map[Capability]JobService
}

func NewRegistry() *Registry {
	return &Registry{services: map[Capability]JobService{}}
}

func (r *Registry) Register(capability Capability, service JobService) {
	r.services[capability] = service
}

func (r *Registry) Get(capability Capability) (JobService, error) {
	service, ok := r.services[capability]
	if !ok {
		return nil, fmt.Errorf("no job service registered for capability %s", capability)
	}
	return service, nil
}

type RolloutSpec struct {
	TenantId string

	// component reference in the tenant's environment.
	ComponentRef string

	Devices []string
}

type DeviceReport struct {
	State  domain.DeviceState
	Reason string
}

type RolloutService interface {
	// CreateRollout starts a rollout and returns its opaque reference.
	CreateRollout(ctx context.Context, sess *credential.Session, spec RolloutSpec) (string, error)

	// GetStatus reads per-device state of a rollout.
	GetStatus(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) (map[string]DeviceReport, error)

	// Cancel stops a rollout. Devices already done stay done.
	Cancel(ctx context.Context, sess *credential.Session, tenantId string, rolloutRef string) error
}
