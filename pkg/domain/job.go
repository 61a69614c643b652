package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/fleetforge/fleetforge/pkg/utils/cmp"
)

type JobKind string

const (
	// annotate raw data; no pipeline descendants.
	LabelingJob JobKind = "labeling"

	// train a model; drives the full pipeline up to Published.
	TrainingJob JobKind = "training"
)

func (jk JobKind) String() string {
	return string(jk)
}

func AsJobKind(s string) (JobKind, error) {
	switch s {
	case string(LabelingJob):
		return LabelingJob, nil
	case string(TrainingJob):
		return TrainingJob, nil
	default:
		return "", fmt.Errorf("'%s' is not JobKind", s)
	}
}

type JobStatus string

const (
	// This Job is accepted but not submitted to the external service yet.
	Queued JobStatus = "queued"

	// Submitted; the external job reference is recorded.
	Running JobStatus = "running"

	// The external training finished successfully.
	TrainSucceeded JobStatus = "train-succeeded"

	// Per-target compilation fan-out is in flight.
	Compiling JobStatus = "compiling"

	// Every compile target reached a terminal state.
	//
	// CompileResult on the job body tells full from partial.
	Compiled JobStatus = "compiled"

	// Succeeded artifacts are being packaged.
	Packaging JobStatus = "packaging"

	// The package is being published as a deployable component.
	Publishing JobStatus = "publishing"

	// This Job has been done, successfully. Terminal.
	Published JobStatus = "published"

	// This Job stopped with error. Terminal. FailedStage tells where.
	Failed JobStatus = "failed"
)

func (js JobStatus) String() string {
	return string(js)
}

func AsJobStatus(s string) (JobStatus, error) {
	switch s {
	case string(Queued):
		return Queued, nil
	case string(Running):
		return Running, nil
	case string(TrainSucceeded):
		return TrainSucceeded, nil
	case string(Compiling):
		return Compiling, nil
	case string(Compiled):
		return Compiled, nil
	case string(Packaging):
		return Packaging, nil
	case string(Publishing):
		return Publishing, nil
	case string(Published):
		return Published, nil
	case string(Failed):
		return Failed, nil
	default:
		return "", fmt.Errorf("'%s' is not JobStatus", s)
	}
}

func (js JobStatus) Terminal() bool {
	switch js {
	case Published, Failed:
		return true
	default:
		return false
	}
}

// statuses where the job waits on an external service.
func (js JobStatus) AwaitingExternal() bool {
	switch js {
	case Running, Compiling, Packaging, Publishing:
		return true
	default:
		return false
	}
}

// legal next statuses of js. Failed is reachable from every non-terminal one.
func (js JobStatus) CanTransitTo(next JobStatus) bool {
	if js.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	switch js {
	case Queued:
		return next == Running
	case Running:
		return next == TrainSucceeded || next == Published // labeling jobs go terminal directly
	case TrainSucceeded:
		return next == Compiling
	case Compiling:
		return next == Compiled
	case Compiled:
		return next == Packaging
	case Packaging:
		return next == Publishing
	case Publishing:
		return next == Published
	default:
		return false
	}
}

var ErrInvalidJobStateChanging = errors.New("cannot change job state")

func NewErrInvalidJobStateChanging(from, to JobStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidJobStateChanging, from, to)
}

// pipeline stage names recorded on Failed jobs.
const (
	StageTrain   = "train"
	StageCompile = "compile"
	StagePackage = "package"
	StagePublish = "publish"
	StageTimeout = "timeout"
	StageCancel  = "cancelled"
)

type CompileResult string

const (
	// every target succeeded.
	CompileFull CompileResult = "full"

	// some targets failed after exhausting retries; the rest proceeded.
	CompilePartial CompileResult = "partial"
)

// administrator-configured compilation target.
type CompileTarget struct {
	Name string

	// hardware/platform descriptor passed to the external compiler.
	Platform string
}

type TargetState string

const (
	TargetPending   TargetState = "pending"
	TargetSubmitted TargetState = "submitted"
	TargetSucceeded TargetState = "succeeded"
	TargetFailed    TargetState = "failed"
)

func (ts TargetState) Terminal() bool {
	return ts == TargetSucceeded || ts == TargetFailed
}

func AsTargetState(s string) (TargetState, error) {
	switch s {
	case string(TargetPending):
		return TargetPending, nil
	case string(TargetSubmitted):
		return TargetSubmitted, nil
	case string(TargetSucceeded):
		return TargetSucceeded, nil
	case string(TargetFailed):
		return TargetFailed, nil
	default:
		return "", fmt.Errorf("'%s' is not TargetState", s)
	}
}

// per-target progress of the compilation fan-out.
type TargetStatus struct {
	JobId  string
	Target CompileTarget
	State  TargetState

	// submission attempts so far. Each attempt gets a fresh ExternalRef.
	Attempts int

	ExternalRef      string
	ArtifactLocation string
	Reason           string
}

func (t TargetStatus) Equal(other TargetStatus) bool {
	return t == other
}

// Core part of job.
type JobBody struct {
	Id       string
	TenantId string
	Kind     JobKind
	Status   JobStatus

	// caller-supplied token to deduplicate retried create requests.
	IdempotencyKey string

	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	// opaque handle returned by the external job service, per latest attempt.
	ExternalRef string

	// submission attempts at the current stage.
	Attempts int

	// honored at stage boundaries only; in-flight external calls are never
	// interrupted.
	CancelRequested bool

	FailedStage   string
	FailureReason string

	CompileResult CompileResult

	// dataset/model inputs in the tenant's storage.
	InputLocation string

	// training result location in the tenant's storage.
	ModelLocation string

	// packaged-artifact reference, set when Packaging finishes.
	PackageRef string

	// name under which the result is published.
	ComponentName string
}

func (jb JobBody) Equal(other JobBody) bool {
	return jb.Id == other.Id &&
		jb.TenantId == other.TenantId &&
		jb.Kind == other.Kind &&
		jb.Status == other.Status &&
		jb.IdempotencyKey == other.IdempotencyKey &&
		jb.CreatedBy == other.CreatedBy &&
		jb.ExternalRef == other.ExternalRef &&
		jb.Attempts == other.Attempts &&
		jb.CancelRequested == other.CancelRequested &&
		jb.FailedStage == other.FailedStage &&
		jb.CompileResult == other.CompileResult &&
		jb.InputLocation == other.InputLocation &&
		jb.ModelLocation == other.ModelLocation &&
		jb.PackageRef == other.PackageRef &&
		jb.ComponentName == other.ComponentName
}

type Job struct {
	JobBody

	// compile fan-out status per target. Empty before TrainSucceeded.
	Targets []TargetStatus
}

func (j Job) Equal(other Job) bool {
	return j.JobBody.Equal(other.JobBody) &&
		cmp.SliceContentEqWith(
			j.Targets, other.Targets,
			func(a, b TargetStatus) bool { return a.Equal(b) },
		)
}

// targets of j in state s.
func (j Job) TargetsIn(s TargetState) []TargetStatus {
	picked := []TargetStatus{}
	for _, t := range j.Targets {
		if t.State == s {
			picked = append(picked, t)
		}
	}
	return picked
}

// parameter to create a new job.
type JobSpec struct {
	TenantId string
	Kind     JobKind

	// caller-supplied; retried creates with the same key return the same job.
	IdempotencyKey string

	CreatedBy string

	// dataset/model inputs in the tenant's storage.
	InputLocation string

	// name under which a training job's result is published.
	ComponentName string
}

// outcome of an external job, from a poll or a completion signal.
type CompletionOutcome struct {
	Succeeded bool

	// artifact/model location, when succeeded.
	ResultLocation string

	Reason string

	// a failed outcome marked transient may be retried.
	Transient bool
}

// output of a successful compilation for one target.
type CompiledArtifact struct {
	JobId      string
	TargetName string
	Location   string
}

type JobCursor struct {
	// Id of job which is picked at last time
	Head string

	// interval to pick same job without changing status.
	Debounce time.Duration

	// status of job which is picked
	Status []JobStatus

	// kinds of job which is picked. Empty means "any".
	Kind []JobKind
}

func (c JobCursor) Equal(other JobCursor) bool {
	return c.Head == other.Head &&
		cmp.SliceContentEq(c.Status, other.Status) &&
		cmp.SliceContentEq(c.Kind, other.Kind)
}

// parameter to query jobs
//
// When all dimension matches a job, this query matches the job.
type JobFindQuery struct {
	// match if job belongs to one of these tenants.
	//
	// If it is nil or empty, it means "match any".
	TenantId []string

	// match if job's status is one of these statuses.
	Status []JobStatus

	// match if job's kind is one of these kinds.
	Kind []JobKind

	// match if job's updated time is equal or later than this.
	UpdatedSince *time.Time

	// match if job's updated time is earlier than this.
	UpdatedUntil *time.Time
}

func (q JobFindQuery) Equal(other JobFindQuery) bool {
	return cmp.SliceContentEq(q.TenantId, other.TenantId) &&
		cmp.SliceContentEq(q.Status, other.Status) &&
		cmp.SliceContentEq(q.Kind, other.Kind) &&
		((q.UpdatedSince == nil && other.UpdatedSince == nil) ||
			(q.UpdatedSince != nil && other.UpdatedSince != nil && q.UpdatedSince.Equal(*other.UpdatedSince))) &&
		((q.UpdatedUntil == nil && other.UpdatedUntil == nil) ||
			(q.UpdatedUntil != nil && other.UpdatedUntil != nil && q.UpdatedUntil.Equal(*other.UpdatedUntil)))
}

// a packaged, versioned deployable unit.
type PublishedComponent struct {
	TenantId string
	Name     string

	// strictly increasing per (tenant, name).
	Version int

	// reference handle in the tenant's environment.
	Ref string

	// training job this component came from.
	JobId string

	CreatedAt time.Time
}

func (pc PublishedComponent) Equal(other PublishedComponent) bool {
	return pc.TenantId == other.TenantId &&
		pc.Name == other.Name &&
		pc.Version == other.Version &&
		pc.Ref == other.Ref &&
		pc.JobId == other.JobId
}
