package compilation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/recurring"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
)

const actor = "system:orchestrator"

// Return initial JobCursor value for task
func Seed(pollInterval time.Duration) domain.JobCursor {
	return domain.JobCursor{
		Status:   []domain.JobStatus{domain.TrainSucceeded, domain.Compiling},
		Kind:     []domain.JobKind{domain.TrainingJob},
		Debounce: pollInterval,
	}
}

type followup func(context.Context)

// collaborators of the compilation loop.
type Deps struct {
	Job    kjob.JobInterface
	Tenant ktenant.TenantInterface
	Audit  kaudit.AuditInterface

	Broker   *credential.Broker
	Registry *extsvc.Registry
	Notifier extsvc.Notifier

	Recipients []string

	// administrator-configured compile targets for every training job.
	Targets []domain.CompileTarget

	MaxAttempts int
	WaitBudget  time.Duration
}

// return:
//
// - task: fans a train-succeeded job out to one compilation per target, then
// watches the fan-out until every target is terminal.
//
// The join rule: all targets terminal closes the stage. Full when every
// target succeeded, partial otherwise; zero successes fail the job.
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
					Message:   fmt.Sprintf("job %s failed during compilation", picked.Id),
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
		logger.Printf("compilation loop: %s", err)
		return nextCursor, statusChanged || curChanged, err
	}
}

func step(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	switch j.Status {
	case domain.TrainSucceeded:
		if j.CancelRequested {
			return domain.Failed, []followup{
				failure(deps.Job, j.Id, domain.StageCancel, "cancel requested"),
			}, nil
		}
		return fanOut(ctx, j, deps)

	case domain.Compiling:
		return join(ctx, j, deps)
	}
	return j.Status, nil, nil
}

// fanOut creates target rows and submits every target concurrently. Targets
// whose submission fails stay pending; join retries them.
func fanOut(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	if err := deps.Job.InitTargets(ctx, j.Id, deps.Targets); err != nil {
		return j.Status, nil, err
	}

	tenant, gone, err := tenantOf(ctx, j, deps)
	if err != nil {
		return j.Status, nil, err
	}
	if gone != nil {
		return domain.Failed, []followup{gone}, nil
	}

	wg := sync.WaitGroup{}
	for _, target := range deps.Targets {
		wg.Add(1)
		go func(target domain.CompileTarget) {
			defer wg.Done()
			submitTarget(ctx, j, target, tenant, deps)
		}(target)
	}
	wg.Wait()

	return domain.Compiling, nil, nil
}

// submitTarget sends one compilation with a fresh session. Errors leave the
// target as it was; the join pass picks it up again.
func submitTarget(
	ctx context.Context,
	j domain.Job,
	target domain.CompileTarget,
	tenant domain.Tenant,
	deps Deps,
) {
	service, err := deps.Registry.Get(extsvc.CapCompilation)
	if err != nil {
		return
	}
	sess, err := deps.Broker.Obtain(ctx, tenant)
	if err != nil {
		return
	}

	ref, err := service.Submit(ctx, sess, extsvc.Submission{
		TenantId:      j.TenantId,
		JobId:         j.Id,
		InputLocation: j.ModelLocation,
		TargetName:    target.Name,
		Platform:      target.Platform,
	})
	if err != nil {
		return
	}

	deps.Job.RecordTargetSubmission(ctx, j.Id, target.Name, ref)
}

func join(ctx context.Context, j domain.Job, deps Deps) (domain.JobStatus, []followup, error) {
	tenant, gone, err := tenantOf(ctx, j, deps)
	if err != nil {
		return j.Status, nil, err
	}
	if gone != nil {
		return domain.Failed, []followup{gone}, nil
	}

	for _, t := range j.Targets {
		if t.State.Terminal() {
			continue
		}

		switch t.State {
		case domain.TargetPending:
			if deps.MaxAttempts <= t.Attempts {
				deps.Job.SetTargetState(
					ctx, j.Id, t.Target.Name, domain.TargetFailed,
					"submission attempts exhausted",
				)
				continue
			}
			submitTarget(ctx, j, t.Target, tenant, deps)

		case domain.TargetSubmitted:
			if err := watchTarget(ctx, j, t, tenant, deps); err != nil {
				return j.Status, nil, err
			}
		}
	}

	// re-read: target states moved above, and the join rule needs them fresh.
	jobs, err := deps.Job.Get(ctx, []string{j.Id})
	if err != nil {
		return j.Status, nil, err
	}
	current, ok := jobs[j.Id]
	if !ok {
		return j.Status, nil, nil
	}

	succeeded, failed := 0, 0
	for _, t := range current.Targets {
		switch t.State {
		case domain.TargetSucceeded:
			succeeded += 1
		case domain.TargetFailed:
			failed += 1
		default:
			// fan-out still in flight.
			if deps.WaitBudget != 0 && deps.WaitBudget < time.Since(j.UpdatedAt) {
				return domain.Failed, []followup{
					failure(deps.Job, j.Id, domain.StageTimeout, fmt.Sprintf(
						"compilation not joined in %s", deps.WaitBudget,
					)),
				}, nil
			}
			return j.Status, nil, nil
		}
	}

	if j.CancelRequested {
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StageCancel, "cancel requested"),
		}, nil
	}

	if succeeded == 0 {
		return domain.Failed, []followup{
			failure(deps.Job, j.Id, domain.StageCompile, "no target succeeded"),
		}, nil
	}

	result := domain.CompileFull
	if 0 < failed {
		result = domain.CompilePartial
	}
	return domain.Compiled, []followup{
		func(ctx context.Context) {
			deps.Job.SetCompileResult(ctx, j.Id, result)
		},
	}, nil
}

// watchTarget reads one submitted target's outcome, signal first, poll next.
func watchTarget(
	ctx context.Context,
	j domain.Job,
	t domain.TargetStatus,
	tenant domain.Tenant,
	deps Deps,
) error {
	outcome, err := deps.Job.Signal(ctx, t.ExternalRef)
	if err != nil {
		return err
	}

	if outcome == nil {
		service, err := deps.Registry.Get(extsvc.CapCompilation)
		if err != nil {
			return err
		}
		sess, err := deps.Broker.Obtain(ctx, tenant)
		if err != nil {
			return err
		}
		report, err := service.Poll(ctx, sess, j.TenantId, t.ExternalRef)
		if err != nil {
			return err
		}
		if !report.Done {
			return nil
		}
		outcome = &report.Outcome
	}

	if outcome.Succeeded {
		return deps.Job.RecordArtifact(ctx, domain.CompiledArtifact{
			JobId:      j.Id,
			TargetName: t.Target.Name,
			Location:   outcome.ResultLocation,
		})
	}

	if outcome.Transient && t.Attempts < deps.MaxAttempts {
		// back to pending; the next cycle resubmits with a fresh reference.
		return deps.Job.SetTargetState(ctx, j.Id, t.Target.Name, domain.TargetPending, outcome.Reason)
	}
	return deps.Job.SetTargetState(ctx, j.Id, t.Target.Name, domain.TargetFailed, outcome.Reason)
}

func tenantOf(ctx context.Context, j domain.Job, deps Deps) (domain.Tenant, followup, error) {
	tenants, err := deps.Tenant.Get(ctx, []string{j.TenantId})
	if err != nil {
		return domain.Tenant{}, nil, err
	}
	tenant, ok := tenants[j.TenantId]
	if !ok || tenant.Lifecycle == domain.TenantDeleted {
		return domain.Tenant{}, failure(deps.Job, j.Id, domain.StageCompile, "tenant is gone"), nil
	}
	return tenant, nil, nil
}

func failure(ijob kjob.JobInterface, jobId string, stage string, reason string) followup {
	return func(ctx context.Context) {
		ijob.SetFailure(ctx, jobId, stage, reason)
	}
}
