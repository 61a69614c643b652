package mock

import (
	"context"
	"errors"

	"github.com/fleetforge/fleetforge/pkg/domain"
	dbmock "github.com/fleetforge/fleetforge/pkg/domain/internal/db/mock"
	kdb "github.com/fleetforge/fleetforge/pkg/domain/job/db"
)

type JobInterface struct {
	Impl struct {
		New                    func(ctx context.Context, spec domain.JobSpec) (string, bool, error)
		Get                    func(ctx context.Context, ids []string) (map[string]domain.Job, error)
		Find                   func(ctx context.Context, query domain.JobFindQuery) ([]string, error)
		SetStatus              func(ctx context.Context, jobId string, newStatus domain.JobStatus) error
		RecordSubmission       func(ctx context.Context, jobId string, externalRef string) error
		RequestCancel          func(ctx context.Context, jobId string) error
		SetFailure             func(ctx context.Context, jobId string, stage string, reason string) error
		SetModelLocation       func(ctx context.Context, jobId string, location string) error
		SetPackageRef          func(ctx context.Context, jobId string, ref string) error
		ResetSubmission        func(ctx context.Context, jobId string) error
		SetCompileResult       func(ctx context.Context, jobId string, result domain.CompileResult) error
		PickAndSetStatus       func(ctx context.Context, cursor domain.JobCursor, task func(domain.Job) (domain.JobStatus, error)) (domain.JobCursor, bool, error)
		InitTargets            func(ctx context.Context, jobId string, targets []domain.CompileTarget) error
		RecordTargetSubmission func(ctx context.Context, jobId string, name string, externalRef string) error
		SetTargetState         func(ctx context.Context, jobId string, name string, state domain.TargetState, reason string) error
		RecordArtifact         func(ctx context.Context, artifact domain.CompiledArtifact) error
		Artifacts              func(ctx context.Context, jobId string) ([]domain.CompiledArtifact, error)
		RecordSignal           func(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (bool, error)
		Signal                 func(ctx context.Context, externalRef string) (*domain.CompletionOutcome, error)
	}

	Calls struct {
		New       dbmock.CallLog[domain.JobSpec]
		Get       dbmock.CallLog[[]string]
		Find      dbmock.CallLog[domain.JobFindQuery]
		SetStatus dbmock.CallLog[struct {
			JobId     string
			NewStatus domain.JobStatus
		}]
		RecordSubmission dbmock.CallLog[struct {
			JobId       string
			ExternalRef string
		}]
		RequestCancel dbmock.CallLog[string]
		SetFailure    dbmock.CallLog[struct {
			JobId  string
			Stage  string
			Reason string
		}]
		SetModelLocation dbmock.CallLog[struct {
			JobId    string
			Location string
		}]
		SetPackageRef dbmock.CallLog[struct {
			JobId string
			Ref   string
		}]
		ResetSubmission dbmock.CallLog[string]
		SetCompileResult dbmock.CallLog[struct {
			JobId  string
			Result domain.CompileResult
		}]
		PickAndSetStatus dbmock.CallLog[domain.JobCursor]
		InitTargets      dbmock.CallLog[struct {
			JobId   string
			Targets []domain.CompileTarget
		}]
		RecordTargetSubmission dbmock.CallLog[struct {
			JobId       string
			Name        string
			ExternalRef string
		}]
		SetTargetState dbmock.CallLog[struct {
			JobId  string
			Name   string
			State  domain.TargetState
			Reason string
		}]
		RecordArtifact dbmock.CallLog[domain.CompiledArtifact]
		Artifacts      dbmock.CallLog[string]
		RecordSignal   dbmock.CallLog[struct {
			ExternalRef string
			Outcome     domain.CompletionOutcome
		}]
		Signal dbmock.CallLog[string]
	}
}

func NewJobInterface() *JobInterface {
	return &JobInterface{}
}

var _ kdb.JobInterface = &JobInterface{}

func (m *JobInterface) New(ctx context.Context, spec domain.JobSpec) (string, bool, error) {
	m.Calls.New = append(m.Calls.New, spec)
	if m.Impl.New != nil {
		return m.Impl.New(ctx, spec)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Get(ctx context.Context, ids []string) (map[string]domain.Job, error) {
	m.Calls.Get = append(m.Calls.Get, ids)
	if m.Impl.Get != nil {
		return m.Impl.Get(ctx, ids)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Find(ctx context.Context, query domain.JobFindQuery) ([]string, error) {
	m.Calls.Find = append(m.Calls.Find, query)
	if m.Impl.Find != nil {
		return m.Impl.Find(ctx, query)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetStatus(ctx context.Context, jobId string, newStatus domain.JobStatus) error {
	m.Calls.SetStatus = append(m.Calls.SetStatus, struct {
		JobId     string
		NewStatus domain.JobStatus
	}{JobId: jobId, NewStatus: newStatus})
	if m.Impl.SetStatus != nil {
		return m.Impl.SetStatus(ctx, jobId, newStatus)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) RecordSubmission(ctx context.Context, jobId string, externalRef string) error {
	m.Calls.RecordSubmission = append(m.Calls.RecordSubmission, struct {
		JobId       string
		ExternalRef string
	}{JobId: jobId, ExternalRef: externalRef})
	if m.Impl.RecordSubmission != nil {
		return m.Impl.RecordSubmission(ctx, jobId, externalRef)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) RequestCancel(ctx context.Context, jobId string) error {
	m.Calls.RequestCancel = append(m.Calls.RequestCancel, jobId)
	if m.Impl.RequestCancel != nil {
		return m.Impl.RequestCancel(ctx, jobId)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetFailure(ctx context.Context, jobId string, stage string, reason string) error {
	m.Calls.SetFailure = append(m.Calls.SetFailure, struct {
		JobId  string
		Stage  string
		Reason string
	}{JobId: jobId, Stage: stage, Reason: reason})
	if m.Impl.SetFailure != nil {
		return m.Impl.SetFailure(ctx, jobId, stage, reason)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetModelLocation(ctx context.Context, jobId string, location string) error {
	m.Calls.SetModelLocation = append(m.Calls.SetModelLocation, struct {
		JobId    string
		Location string
	}{JobId: jobId, Location: location})
	if m.Impl.SetModelLocation != nil {
		return m.Impl.SetModelLocation(ctx, jobId, location)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetPackageRef(ctx context.Context, jobId string, ref string) error {
	m.Calls.SetPackageRef = append(m.Calls.SetPackageRef, struct {
		JobId string
		Ref   string
	}{JobId: jobId, Ref: ref})
	if m.Impl.SetPackageRef != nil {
		return m.Impl.SetPackageRef(ctx, jobId, ref)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) ResetSubmission(ctx context.Context, jobId string) error {
	m.Calls.ResetSubmission = append(m.Calls.ResetSubmission, jobId)
	if m.Impl.ResetSubmission != nil {
		return m.Impl.ResetSubmission(ctx, jobId)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetCompileResult(ctx context.Context, jobId string, result domain.CompileResult) error {
	m.Calls.SetCompileResult = append(m.Calls.SetCompileResult, struct {
		JobId  string
		Result domain.CompileResult
	}{JobId: jobId, Result: result})
	if m.Impl.SetCompileResult != nil {
		return m.Impl.SetCompileResult(ctx, jobId, result)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) PickAndSetStatus(
	ctx context.Context,
	cursor domain.JobCursor,
	task func(domain.Job) (domain.JobStatus, error),
) (domain.JobCursor, bool, error) {
	m.Calls.PickAndSetStatus = append(m.Calls.PickAndSetStatus, cursor)
	if m.Impl.PickAndSetStatus != nil {
		return m.Impl.PickAndSetStatus(ctx, cursor, task)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) InitTargets(ctx context.Context, jobId string, targets []domain.CompileTarget) error {
	m.Calls.InitTargets = append(m.Calls.InitTargets, struct {
		JobId   string
		Targets []domain.CompileTarget
	}{JobId: jobId, Targets: targets})
	if m.Impl.InitTargets != nil {
		return m.Impl.InitTargets(ctx, jobId, targets)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) RecordTargetSubmission(ctx context.Context, jobId string, name string, externalRef string) error {
	m.Calls.RecordTargetSubmission = append(m.Calls.RecordTargetSubmission, struct {
		JobId       string
		Name        string
		ExternalRef string
	}{JobId: jobId, Name: name, ExternalRef: externalRef})
	if m.Impl.RecordTargetSubmission != nil {
		return m.Impl.RecordTargetSubmission(ctx, jobId, name, externalRef)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) SetTargetState(ctx context.Context, jobId string, name string, state domain.TargetState, reason string) error {
	m.Calls.SetTargetState = append(m.Calls.SetTargetState, struct {
		JobId  string
		Name   string
		State  domain.TargetState
		Reason string
	}{JobId: jobId, Name: name, State: state, Reason: reason})
	if m.Impl.SetTargetState != nil {
		return m.Impl.SetTargetState(ctx, jobId, name, state, reason)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) RecordArtifact(ctx context.Context, artifact domain.CompiledArtifact) error {
	m.Calls.RecordArtifact = append(m.Calls.RecordArtifact, artifact)
	if m.Impl.RecordArtifact != nil {
		return m.Impl.RecordArtifact(ctx, artifact)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Artifacts(ctx context.Context, jobId string) ([]domain.CompiledArtifact, error) {
	m.Calls.Artifacts = append(m.Calls.Artifacts, jobId)
	if m.Impl.Artifacts != nil {
		return m.Impl.Artifacts(ctx, jobId)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) RecordSignal(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (bool, error) {
	m.Calls.RecordSignal = append(m.Calls.RecordSignal, struct {
		ExternalRef string
		Outcome     domain.CompletionOutcome
	}{ExternalRef: externalRef, Outcome: outcome})
	if m.Impl.RecordSignal != nil {
		return m.Impl.RecordSignal(ctx, externalRef, outcome)
	}

	panic(errors.New("it should not be called"))
}

func (m *JobInterface) Signal(ctx context.Context, externalRef string) (*domain.CompletionOutcome, error) {
	m.Calls.Signal = append(m.Calls.Signal, externalRef)
	if m.Impl.Signal != nil {
		return m.Impl.Signal(ctx, externalRef)
	}

	panic(errors.New("it should not be called"))
}
