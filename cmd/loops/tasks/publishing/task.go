package publishing

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
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
)

const actor = "system:orchestrator"

// Return initial JobCursor value for task
func Seed(pollInterval time.Duration) domain.JobCursor {
	return domain.JobCursor{
		Status:   []domain.JobStatus{domain.Compiled, domain.Packaging, domain.Publishing},
		Kind:     []domain.JobKind{domain.TrainingJob},
		Debounce: pollInterval,
	}
}

type followup func(context.Context)

// collaborators of the publishing loop.
type Deps struct {
	Job       kjob.JobInterface
	Tenant    ktenant.TenantInterface
	Component kcomponent.ComponentInterface
	Audit     kaudit.AuditInterface

	Broker   *credential.Broker
	Registry *extsvc.Registry
	Notifier extsvc.Notifier

	Recipients []string

	MaxAttempts int
	BackoffBase time.Duration
	WaitBudget  time.Duration
}

// return:
//
// - task: walks a compiled job through packaging and publishing, one stage at
// a time. Packaging takes only the succeeded artifacts; publishing registers
// the result as a new component version.
func Task(logger *log.Logger, deps Deps) recurring.Task[domain.JobCursor] {
	return func(ctx context.Context, value domain.JobCursor) (domain.JobCursor, bool, error) {
		var followups []followup
		var picked *domain.Job
		var decided domain.JobStatus

		nextCursor, statusChanged, err := deps.Job.PickAndSetStatus(
			ctx, value,
			func(j domain.Job) (domain.JobStatus, error) {
				picked = &j
				status, fs, err := step(ctx, j, deps)
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
				Action:   "job.transition",
				Resource: fmt.Sprintf("job/%s: %s -> %s", picked.Id, picked.Status, decided),
				Outcome:  domain.OutcomeApplied,
			})
			if decided == domain.Failed {
				deps.Notifier.Notify(ctx, extsvc.Event{
					TenantId:  picked.TenantId,
					Subject:   "job",
					Reference: picked.Id,
					Message:   fmt.Sprintf("job %s failed during %s", picked.Id, picked.Status),
				}, deps.Recipients)
			}
		}

		curChanged := !value.Equal(nextCursor)

		if err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, domain.ErrInvalidJobStateChanging) {
			return nextCursor, statusChanged || curChanged, nil
		}
		logger.Printf("publishing loop: %s", err)
		return nextCursor, statusChanged || curChanged, err
	}
}

func step(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	if j.CancelRequested {
		// stage boundary: nothing in flight for this job right now, or its
		// outcome is about to be dropped anyway.
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StageCancel, "cancel requested"),
		}, nil
	}

	switch j.Status {
	case domain.Compiled:
		return startPackaging(ctx, j, deps)

	case domain.Packaging:
		return watchPackaging(ctx, j, deps)

	case domain.Publishing:
		return watchPublishing(ctx, j, deps)
	}
	return j.Status, nil, nil
}

func startPackaging(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	artifacts, err := deps.Job.Artifacts(ctx, j.Id)
	if err != nil {
		return j.Status, nil, err
	}
	if len(artifacts) == 0 {
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StagePackage, "no artifacts to package"),
		}, nil
	}

	ref, fail, err := submit(ctx, j, deps, extsvc.CapPackaging, extsvc.Submission{
		TenantId: j.TenantId,
		JobId:    j.Id,
		ArtifactLocations: slices.Map(
			artifacts,
			func(a domain.CompiledArtifact) string { return a.Location },
		),
		ComponentName: j.ComponentName,
	})
	if err != nil {
		return j.Status, nil, err
	}
	if fail != nil {
		return domain.Failed, []followup{fail}, nil
	}

	return domain.Packaging, []followup{
		func(ctx context.Context) {
			deps.Job.ResetSubmission(ctx, j.Id)
			deps.Job.RecordSubmission(ctx, j.Id, ref)
		},
	}, nil
}

func watchPackaging(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	outcome, timedOut, err := outcomeOf(ctx, j, deps, extsvc.CapPackaging)
	if err != nil {
		return j.Status, nil, err
	}
	if timedOut != nil {
		return domain.Failed, []followup{timedOut}, nil
	}
	if outcome == nil {
		return j.Status, nil, nil
	}

	if !outcome.Succeeded {
		return retryOrFail(ctx, j, deps, domain.StagePackage, outcome, func() (domain.JobStatus, []followup, error) {
			return startPackaging(ctx, j, deps)
		})
	}

	pkgRef := outcome.ResultLocation
	pubRef, fail, err := submit(ctx, j, deps, extsvc.CapPublishing, extsvc.Submission{
		TenantId:      j.TenantId,
		JobId:         j.Id,
		ComponentName: j.ComponentName,
		PackageRef:    pkgRef,
	})
	if err != nil {
		return j.Status, nil, err
	}
	if fail != nil {
		return domain.Failed, []followup{fail}, nil
	}

	return domain.Publishing, []followup{
		func(ctx context.Context) {
			deps.Job.SetPackageRef(ctx, j.Id, pkgRef)
			deps.Job.ResetSubmission(ctx, j.Id)
			deps.Job.RecordSubmission(ctx, j.Id, pubRef)
		},
	}, nil
}

func watchPublishing(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	if j.ExternalRef == "" {
		// crash between stage advance and RecordSubmission. The package
		// reference is durable, so just submit again.
		ref, fail, err := submit(ctx, j, deps, extsvc.CapPublishing, extsvc.Submission{
			TenantId:      j.TenantId,
			JobId:         j.Id,
			ComponentName: j.ComponentName,
			PackageRef:    j.PackageRef,
		})
		if err != nil {
			return j.Status, nil, err
		}
		if fail != nil {
			return domain.Failed, []followup{fail}, nil
		}
		return j.Status, []followup{
			func(ctx context.Context) {
				deps.Job.RecordSubmission(ctx, j.Id, ref)
			},
		}, nil
	}

	outcome, timedOut, err := outcomeOf(ctx, j, deps, extsvc.CapPublishing)
	if err != nil {
		return j.Status, nil, err
	}
	if timedOut != nil {
		return domain.Failed, []followup{timedOut}, nil
	}
	if outcome == nil {
		return j.Status, nil, nil
	}

	if !outcome.Succeeded {
		return retryOrFail(ctx, j, deps, domain.StagePublish, outcome, func() (domain.JobStatus, []followup, error) {
			ref, fail, err := submit(ctx, j, deps, extsvc.CapPublishing, extsvc.Submission{
				TenantId:      j.TenantId,
				JobId:         j.Id,
				ComponentName: j.ComponentName,
				PackageRef:    j.PackageRef,
			})
			if err != nil {
				return j.Status, nil, err
			}
			if fail != nil {
				return domain.Failed, []followup{fail}, nil
			}
			return j.Status, []followup{
				func(ctx context.Context) {
					deps.Job.RecordSubmission(ctx, j.Id, ref)
				},
			}, nil
		})
	}

	if err := register(ctx, j, outcome.ResultLocation, deps); err != nil {
		return j.Status, nil, err
	}
	return domain.Published, nil, nil
}

// register stores the published component under the next version. A loser of
// a concurrent version race re-reads and tries again, bounded.
func register(ctx context.Context, j domain.Job, ref string, deps Deps) error {
	for range [3]struct{}{} {
		version, err := deps.Component.NextVersion(ctx, j.TenantId, j.ComponentName)
		if err != nil {
			return err
		}
		err = deps.Component.Record(ctx, domain.PublishedComponent{
			TenantId: j.TenantId,
			Name:     j.ComponentName,
			Version:  version,
			Ref:      ref,
			JobId:    j.Id,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, kerr.ErrVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("component %s/%s: version conflict not settled", j.TenantId, j.ComponentName)
}

// submit sends one stage job. The second return value, when not nil, is the
// followup failing the job because its tenant is gone.
func submit(
	ctx context.Context,
	j domain.Job,
	deps Deps,
	capability extsvc.Capability,
	sub extsvc.Submission,
) (string, followup, error) {
	service, err := deps.Registry.Get(capability)
	if err != nil {
		return "", nil, err
	}

	tenants, err := deps.Tenant.Get(ctx, []string{j.TenantId})
	if err != nil {
		return "", nil, err
	}
	tenant, ok := tenants[j.TenantId]
	if !ok || tenant.Lifecycle == domain.TenantDeleted {
		return "", failure(deps.Job, j.Id, string(capability), "tenant is gone"), nil
	}

	sess, err := deps.Broker.Obtain(ctx, tenant)
	if err != nil {
		return "", nil, err
	}

	ref, err := service.Submit(ctx, sess, sub)
	if err != nil {
		return "", nil, err
	}
	return ref, nil, nil
}

// outcomeOf reads the outcome of the in-flight stage job, signal first.
//
// Returns (nil, nil, nil) when nothing is in yet and the wait budget holds.
func outcomeOf(
	ctx context.Context,
	j domain.Job,
	deps Deps,
	capability extsvc.Capability,
) (*domain.CompletionOutcome, followup, error) {
	outcome, err := deps.Job.Signal(ctx, j.ExternalRef)
	if err != nil {
		return nil, nil, err
	}
	if outcome != nil {
		return outcome, nil, nil
	}

	service, err := deps.Registry.Get(capability)
	if err != nil {
		return nil, nil, err
	}

	tenants, err := deps.Tenant.Get(ctx, []string{j.TenantId})
	if err != nil {
		return nil, nil, err
	}
	tenant, ok := tenants[j.TenantId]
	if !ok || tenant.Lifecycle == domain.TenantDeleted {
		return nil, failure(deps.Job, j.Id, string(capability), "tenant is gone"), nil
	}

	sess, err := deps.Broker.Obtain(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}

	report, err := service.Poll(ctx, sess, j.TenantId, j.ExternalRef)
	if err != nil {
		return nil, nil, err
	}
	if !report.Done {
		if deps.WaitBudget != 0 && deps.WaitBudget < time.Since(j.UpdatedAt) {
			return nil, failure(deps.Job, j.Id, domain.StageTimeout, fmt.Sprintf(
				"no outcome in %s", deps.WaitBudget,
			)), nil
		}
		return nil, nil, nil
	}
	return &report.Outcome, nil, nil
}

// retryOrFail applies the bounded-attempt rule with exponential backoff for
// transient failures; everything else fails the stage.
func retryOrFail(
	ctx context.Context,
	j domain.Job,
	deps Deps,
	stage string,
	outcome *domain.CompletionOutcome,
	resubmit func() (domain.JobStatus, []followup, error),
) (domain.JobStatus, []followup, error) {
	if !outcome.Transient || deps.MaxAttempts <= j.Attempts {
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, stage, outcome.Reason),
		}, nil
	}

	backoff := deps.BackoffBase
	for i := 1; i < j.Attempts; i++ {
		backoff *= 2
	}
	if time.Since(j.UpdatedAt) < backoff {
		// cool down; the cursor debounce brings us back.
		return j.Status, nil, nil
	}
	return resubmit()
}

func failure(ijob kjob.JobInterface, jobId string, stage string, reason string) followup {
	return func(ctx context.Context) {
		ijob.SetFailure(ctx, jobId, stage, reason)
	}
}
