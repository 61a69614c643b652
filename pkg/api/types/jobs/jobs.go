package jobs

import (
	"github.com/fleetforge/fleetforge/pkg/domain"
	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
)

type Failure struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

func (f *Failure) Equal(o *Failure) bool {
	if f == nil || o == nil {
		return (f == nil) && (o == nil)
	}
	return *f == *o
}

type Summary struct {
	JobId     string          `json:"jobId"`
	TenantId  string          `json:"tenantId"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	UpdatedAt rfctime.RFC3339 `json:"updatedAt"`
	Failure   *Failure        `json:"failure,omitempty"`
}

func ComposeSummary(j domain.JobBody) Summary {
	var failure *Failure
	if j.Status == domain.Failed {
		failure = &Failure{Stage: j.FailedStage, Reason: j.FailureReason}
	}
	return Summary{
		JobId:     j.Id,
		TenantId:  j.TenantId,
		Kind:      j.Kind.String(),
		Status:    string(j.Status),
		UpdatedAt: rfctime.RFC3339(j.UpdatedAt),
		Failure:   failure,
	}
}

func (s *Summary) Equal(o *Summary) bool {
	if s == nil || o == nil {
		return (s == nil) && (o == nil)
	}
	return s.JobId == o.JobId &&
		s.TenantId == o.TenantId &&
		s.Kind == o.Kind &&
		s.Status == o.Status &&
		s.UpdatedAt.Equal(&o.UpdatedAt) &&
		s.Failure.Equal(o.Failure)
}

type Target struct {
	Name             string `json:"name"`
	Platform         string `json:"platform"`
	State            string `json:"state"`
	ArtifactLocation string `json:"artifactLocation,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type Detail struct {
	Summary
	CreatedBy       string   `json:"createdBy"`
	InputLocation   string   `json:"inputLocation"`
	ComponentName   string   `json:"componentName"`
	CancelRequested bool     `json:"cancelRequested"`
	ModelLocation   string   `json:"modelLocation,omitempty"`
	CompileResult   string   `json:"compileResult,omitempty"`
	PackageRef      string   `json:"packageRef,omitempty"`
	Targets         []Target `json:"targets"`
}

func ComposeDetail(j domain.Job) Detail {
	return Detail{
		Summary:         ComposeSummary(j.JobBody),
		CreatedBy:       j.CreatedBy,
		InputLocation:   j.InputLocation,
		ComponentName:   j.ComponentName,
		CancelRequested: j.CancelRequested,
		ModelLocation:   j.ModelLocation,
		CompileResult:   string(j.CompileResult),
		PackageRef:      j.PackageRef,
		Targets: slices.Map(j.Targets, func(t domain.TargetStatus) Target {
			return Target{
				Name:             t.Target.Name,
				Platform:         t.Target.Platform,
				State:            string(t.State),
				ArtifactLocation: t.ArtifactLocation,
				Reason:           t.Reason,
			}
		}),
	}
}

func (d *Detail) Equal(o *Detail) bool {
	if d == nil || o == nil {
		return (d == nil) && (o == nil)
	}
	return d.Summary.Equal(&o.Summary) &&
		d.CreatedBy == o.CreatedBy &&
		d.InputLocation == o.InputLocation &&
		d.ComponentName == o.ComponentName &&
		d.CancelRequested == o.CancelRequested &&
		d.ModelLocation == o.ModelLocation &&
		d.CompileResult == o.CompileResult &&
		d.PackageRef == o.PackageRef &&
		cmp.SliceContentEq(d.Targets, o.Targets)
}

// request body of training job creation.
type CreateSpec struct {
	Kind          string `json:"kind"`
	InputLocation string `json:"inputLocation"`
	ComponentName string `json:"componentName"`
}

// inbound completion signal from an external job service.
type Signal struct {
	ExternalRef    string `json:"externalRef"`
	Succeeded      bool   `json:"succeeded"`
	ResultLocation string `json:"resultLocation,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Transient      bool   `json:"transient,omitempty"`
}
