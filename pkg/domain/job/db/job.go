package db

import (
	"context"

	"github.com/fleetforge/fleetforge/pkg/domain"
)

type JobInterface interface {
	// New creates a job in status "queued".
	//
	// Idempotency: when a job with the same (tenant, idempotency key) already
	// exists, its id is returned with created == false and nothing is
	// written. The caller must not submit to the external service again.
	//
	// Returns
	//
	// - string: job id (new or existing).
	//
	// - bool: true only when a job was actually created.
	//
	// - error
	New(ctx context.Context, spec domain.JobSpec) (jobId string, created bool, err error)

	// Get jobs by ids, with their compile targets.
	// Missing ids are left out of the map, not an error.
	Get(ctx context.Context, ids []string) (map[string]domain.Job, error)

	// Find ids of jobs matching query, ordered by update time.
	Find(ctx context.Context, query domain.JobFindQuery) ([]string, error)

	// SetStatus updates job status.
	//
	// Returns ErrInvalidJobStateChanging when the new status is not a legal
	// successor of the current one, ErrMissing when the job is not found.
	SetStatus(ctx context.Context, jobId string, newStatus domain.JobStatus) error

	// RecordSubmission stores the external job reference of a fresh attempt
	// and increments the attempt counter. References are never reused
	// between attempts.
	RecordSubmission(ctx context.Context, jobId string, externalRef string) error

	// RequestCancel marks the job cancel-requested. The orchestrator honors
	// the mark at the next stage boundary. Cancelling a terminal job returns
	// ErrInvalidJobStateChanging.
	RequestCancel(ctx context.Context, jobId string) error

	// SetFailure records the failed stage and reason together with the
	// transition to "failed".
	SetFailure(ctx context.Context, jobId string, stage string, reason string) error

	// SetModelLocation stores the training result location.
	SetModelLocation(ctx context.Context, jobId string, location string) error

	// SetPackageRef stores the packaged-artifact reference.
	SetPackageRef(ctx context.Context, jobId string, ref string) error

	// ResetSubmission clears the external reference and the attempt counter.
	// Called at stage boundaries; attempts count per stage.
	ResetSubmission(ctx context.Context, jobId string) error

	// SetCompileResult records the fan-out join verdict (full or partial)
	// together with the transition to "compiled".
	SetCompileResult(ctx context.Context, jobId string, result domain.CompileResult) error

	// PickAndSetStatus picks the next job of cursor and changes its status to
	// the return value of task.
	//
	// The picked row is locked for the duration of task, so no two
	// transitions for the same job ever run concurrently. Jobs are picked
	// cyclically by id so no job starves.
	//
	// Returns
	//
	// - domain.JobCursor: cursor pointing at the picked job. Unchanged when
	// nothing was picked.
	//
	// - bool: true only when a status change was saved.
	//
	// - error: ErrInvalidJobStateChanging when task returned an illegal
	// successor status.
	PickAndSetStatus(ctx context.Context, cursor domain.JobCursor, task func(domain.Job) (domain.JobStatus, error)) (domain.JobCursor, bool, error)

	// InitTargets creates pending compile-target rows for a job.
	InitTargets(ctx context.Context, jobId string, targets []domain.CompileTarget) error

	// RecordTargetSubmission stores a fresh external reference for one target
	// and increments its attempt counter.
	RecordTargetSubmission(ctx context.Context, jobId string, name string, externalRef string) error

	// SetTargetState updates one target's state with a reason (may be empty).
	SetTargetState(ctx context.Context, jobId string, name string, state domain.TargetState, reason string) error

	// RecordArtifact stores the artifact location of a succeeded target and
	// marks it succeeded.
	RecordArtifact(ctx context.Context, artifact domain.CompiledArtifact) error

	// Artifacts lists compiled artifacts of a job (succeeded targets only).
	Artifacts(ctx context.Context, jobId string) ([]domain.CompiledArtifact, error)

	// RecordSignal stores an inbound completion signal for an external job
	// reference.
	//
	// Returns
	//
	// - bool: false when the reference is unknown (stale or foreign); the
	// signal is dropped and the caller should log a warning, nothing more.
	//
	// - error
	RecordSignal(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (known bool, err error)

	// Signal reads (and consumes) a stored completion signal for an external
	// job reference. Returns nil when no signal has arrived.
	Signal(ctx context.Context, externalRef string) (*domain.CompletionOutcome, error)
}
