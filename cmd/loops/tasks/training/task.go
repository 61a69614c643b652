package training

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
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
)

// actor recorded on audit events for transitions this loop applies.
const actor = "system:orchestrator"

// Return initial JobCursor value for task
func Seed(pollInterval time.Duration) domain.JobCursor {
	return domain.JobCursor{
		// Status of the jobs to be monitored
		Status:   []domain.JobStatus{domain.Queued, domain.Running},
		Debounce: pollInterval,
	}
}

// a side effect to run after the picked job's transaction commits.
//
// The picked job row is locked while the task callback runs, so everything
// that writes that row again goes through one of these.
type followup func(context.Context)

// collaborators of the training loop.
type Deps struct {
	Job    kjob.JobInterface
	Tenant ktenant.TenantInterface
	Audit  kaudit.AuditInterface

	Broker   *credential.Broker
	Registry *extsvc.Registry
	Notifier extsvc.Notifier

	Recipients []string

	// submission attempts per stage before a transient failure goes terminal.
	MaxAttempts int

	// how long a Running job may stay without an outcome.
	WaitBudget time.Duration
}

// return:
//
// - task: submits queued jobs to the external service and watches running
// ones until their outcome is in.
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
					Message:   fmt.Sprintf("job %s failed", picked.Id),
				}, deps.Recipients)
			}
		}

		curChanged := !value.Equal(nextCursor)

		// Context cancelled/deadline exceeded are okay. It will be retried.
		if err == nil ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, domain.ErrInvalidJobStateChanging) {
			return nextCursor, statusChanged || curChanged, nil
		}
		logger.Printf("training loop: %s", err)
		return nextCursor, statusChanged || curChanged, err
	}
}

func step(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	switch j.Status {
	case domain.Queued:
		if j.CancelRequested {
			return domain.Failed, []followup{
				failure(deps.Job, j.Id, domain.StageCancel, "cancelled before submission"),
			}, nil
		}
		return submit(ctx, j, deps)

	case domain.Running:
		return watch(ctx, j, deps)
	}
	return j.Status, nil, nil
}

func submit(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	service, err := deps.Registry.Get(capabilityOf(j.Kind))
	if err != nil {
		return j.Status, nil, err
	}

	tenant, gone, err := tenantOf(ctx, j, deps)
	if err != nil {
		return j.Status, nil, err
	}
	if gone != nil {
		return domain.Failed, []followup{gone}, nil
	}

	sess, err := deps.Broker.Obtain(ctx, tenant)
	if err != nil {
		// credential failures are transient by contract; retry next cycle.
		return j.Status, nil, err
	}

	ref, err := service.Submit(ctx, sess, extsvc.Submission{
		TenantId:      j.TenantId,
		JobId:         j.Id,
		InputLocation: j.InputLocation,
		ComponentName: j.ComponentName,
	})
	if err != nil {
		return j.Status, nil, err
	}

	return domain.Running, []followup{
		func(ctx context.Context) {
			deps.Job.RecordSubmission(ctx, j.Id, ref)
		},
	}, nil
}

func watch(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	if j.ExternalRef == "" {
		// a crash between commit and RecordSubmission left no reference.
		// Submit again; references are never reused between attempts.
		return submit(ctx, j, deps)
	}

	// a pushed completion signal wins over polling.
	outcome, err := deps.Job.Signal(ctx, j.ExternalRef)
	if err != nil {
		return j.Status, nil, err
	}

	if outcome == nil {
		service, err := deps.Registry.Get(capabilityOf(j.Kind))
		if err != nil {
			return j.Status, nil, err
		}

		tenant, gone, err := tenantOf(ctx, j, deps)
		if err != nil {
			return j.Status, nil, err
		}
		if gone != nil {
			return domain.Failed, []followup{gone}, nil
		}

		sess, err := deps.Broker.Obtain(ctx, tenant)
		if err != nil {
			return j.Status, nil, err
		}

		report, err := service.Poll(ctx, sess, j.TenantId, j.ExternalRef)
		if err != nil {
			return j.Status, nil, err
		}
		if !report.Done {
			if deps.WaitBudget != 0 && deps.WaitBudget < time.Since(j.UpdatedAt) {
				return domain.Failed, []followup{
					failure(deps.Job, j.Id, domain.StageTimeout, fmt.Sprintf(
						"no outcome in %s", deps.WaitBudget,
					)),
				}, nil
			}
			return j.Status, nil, nil
		}
		outcome = &report.Outcome
	}

	// cancel is honored here, at the stage boundary: the report is in, the
	// job does not advance.
	if j.CancelRequested {
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StageCancel, "cancel requested"),
		}, nil
	}

	if !outcome.Succeeded {
		if outcome.Transient && j.Attempts < deps.MaxAttempts {
			return submit(ctx, j, deps)
		}
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StageTrain, outcome.Reason),
		}, nil
	}

	if j.Kind == domain.LabelingJob {
		// labeling has no pipeline descendants.
		return domain.Published, nil, nil
	}

	location := outcome.ResultLocation
	return domain.TrainSucceeded, []followup{
		func(ctx context.Context) {
			deps.Job.SetModelLocation(ctx, j.Id, location)
		},
	}, nil
}

// tenantOf loads the job's tenant. When the tenant is gone, the second return
// value is the followup failing the job and the first is meaningless.
func tenantOf(ctx context.Context, j domain.Job, deps Deps) (domain.Tenant, followup, error) {
	tenants, err := deps.Tenant.Get(ctx, []string{j.TenantId})
	if err != nil {
		return domain.Tenant{}, nil, err
	}
	tenant, ok := tenants[j.TenantId]
	if !ok || tenant.Lifecycle == domain.TenantDeleted {
		return domain.Tenant{}, failure(deps.Job, j.Id, domain.StageTrain, "tenant is gone"), nil
	}
	return tenant, nil, nil
}

func capabilityOf(kind domain.JobKind) extsvc.Capability {
	if kind == domain.LabelingJob {
		return extsvc.CapLabeling
	}
	return extsvc.CapTraining
}

func failure(ijob kjob.JobInterface, jobId string, stage string, reason string) followup {
	return func(ctx context.Context) {
		ijob.SetFailure(ctx, jobId, stage, reason)
	}
}
