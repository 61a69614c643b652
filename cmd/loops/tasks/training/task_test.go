package training_test

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/tasks/training"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	mockaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db/mock"
	mockjob "github.com/fleetforge/fleetforge/pkg/domain/job/db/mock"
	mocktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db/mock"
	"github.com/fleetforge/fleetforge/pkg/extsvc"
	mockextsvc "github.com/fleetforge/fleetforge/pkg/extsvc/mock"
)

type staticIssuer struct{}

func (staticIssuer) Issue(ctx context.Context, tenant domain.Tenant) (credential.Token, error) {
	return credential.Token{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func logger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestTask_Outside_of_PickAndSetStatus(t *testing.T) {

	t.Run("it passes the cursor through and absorbs cancellation", func(t *testing.T) {
		ctx := context.Background()
		cursor := training.Seed(3 * time.Second)
		nextCursor := cursor
		nextCursor.Head = "job-1"

		job := mockjob.NewJobInterface()
		job.Impl.PickAndSetStatus = func(
			ctx context.Context, value domain.JobCursor,
			f func(domain.Job) (domain.JobStatus, error),
		) (domain.JobCursor, bool, error) {
			return nextCursor, false, context.Canceled
		}

		testee := training.Task(logger(), training.Deps{Job: job})

		value, ok, err := testee(ctx, cursor)
		if err != nil {
			t.Errorf("unexpected error: %+v", err)
		}
		if !ok {
			t.Error("cursor moved, but ok is false")
		}
		if !value.Equal(nextCursor) {
			t.Errorf(
				"unexpected cursor:\n===actual===\n%+v\n===expected===\n%+v",
				value, nextCursor,
			)
		}
	})

	t.Run("it surfaces other errors", func(t *testing.T) {
		ctx := context.Background()
		cursor := training.Seed(3 * time.Second)
		fakeErr := errors.New("fake error")

		job := mockjob.NewJobInterface()
		job.Impl.PickAndSetStatus = func(
			ctx context.Context, value domain.JobCursor,
			f func(domain.Job) (domain.JobStatus, error),
		) (domain.JobCursor, bool, error) {
			return value, false, fakeErr
		}

		testee := training.Task(logger(), training.Deps{Job: job})

		if _, _, err := testee(ctx, cursor); !errors.Is(err, fakeErr) {
			t.Errorf("unexpected error: %+v", err)
		}
	})
}

func TestTask_Transitions(t *testing.T) {

	tenantA := domain.Tenant{
		Id:         "tenant-a",
		Name:       "tenant a",
		TrustScope: domain.TrustScope{ExternalId: "ext", Version: 1},
		Lifecycle:  domain.TenantActive,
	}

	type When struct {
		Job domain.Job

		SubmitRef string
		SubmitErr error

		SignalOutcome *domain.CompletionOutcome

		PollReport extsvc.Report
		PollErr    error

		TenantGone bool
	}

	type Then struct {
		Status domain.JobStatus

		Submitted  *extsvc.Submission
		RecordsRef string

		Failure *struct {
			Stage  string
			Reason string
		}

		ModelLocation string

		Audited  bool
		Notified bool
	}

	theory := func(when When, then Then) func(t *testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()

			decided := when.Job.Status

			job := mockjob.NewJobInterface()
			job.Impl.PickAndSetStatus = func(
				ctx context.Context, value domain.JobCursor,
				f func(domain.Job) (domain.JobStatus, error),
			) (domain.JobCursor, bool, error) {
				status, err := f(when.Job)
				if err != nil {
					return value, false, err
				}
				decided = status
				return value, status != when.Job.Status, nil
			}
			job.Impl.RecordSubmission = func(ctx context.Context, jobId string, externalRef string) error {
				return nil
			}
			job.Impl.SetFailure = func(ctx context.Context, jobId string, stage string, reason string) error {
				return nil
			}
			job.Impl.SetModelLocation = func(ctx context.Context, jobId string, location string) error {
				return nil
			}
			job.Impl.Signal = func(ctx context.Context, externalRef string) (*domain.CompletionOutcome, error) {
				return when.SignalOutcome, nil
			}

			tenant := mocktenant.NewTenantInterface()
			tenant.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
				if when.TenantGone {
					return map[string]domain.Tenant{}, nil
				}
				return map[string]domain.Tenant{tenantA.Id: tenantA}, nil
			}

			audit := mockaudit.NewAuditInterface()
			audit.Impl.Append = func(ctx context.Context, event domain.AuditEvent) (int64, error) {
				return 1, nil
			}

			service := mockextsvc.NewJobService()
			service.Impl.Submit = func(ctx context.Context, sess *credential.Session, sub extsvc.Submission) (string, error) {
				return when.SubmitRef, when.SubmitErr
			}
			service.Impl.Poll = func(ctx context.Context, sess *credential.Session, tenantId string, externalRef string) (extsvc.Report, error) {
				return when.PollReport, when.PollErr
			}

			registry := extsvc.NewRegistry()
			registry.Register(extsvc.CapLabeling, service)
			registry.Register(extsvc.CapTraining, service)

			notifier := mockextsvc.NewNotifier()
			notifier.Impl.Notify = func(ctx context.Context, event extsvc.Event, recipients []string) error {
				return nil
			}

			testee := training.Task(logger(), training.Deps{
				Job:         job,
				Tenant:      tenant,
				Audit:       audit,
				Broker:      credential.NewBroker(staticIssuer{}, 0.8, 0),
				Registry:    registry,
				Notifier:    notifier,
				MaxAttempts: 3,
				WaitBudget:  time.Hour,
			})

			if _, _, err := testee(ctx, training.Seed(3*time.Second)); err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}

			if statusSet := job.Calls.PickAndSetStatus.Times(); statusSet != 1 {
				t.Fatalf("PickAndSetStatus: called %d times", statusSet)
			}
			if decided != then.Status {
				t.Errorf("unexpected status: (actual, expected) = (%s, %s)", decided, then.Status)
			}

			if then.Submitted == nil {
				if service.Calls.Submit.Times() != 0 {
					t.Errorf("unexpected submission: %+v", service.Calls.Submit)
				}
			} else {
				if service.Calls.Submit.Times() != 1 {
					t.Fatalf("Submit: called %d times", service.Calls.Submit.Times())
				}
				if actual := service.Calls.Submit[0]; !reflect.DeepEqual(actual, *then.Submitted) {
					t.Errorf(
						"unexpected submission:\n===actual===\n%+v\n===expected===\n%+v",
						actual, *then.Submitted,
					)
				}
			}

			if then.RecordsRef == "" {
				if job.Calls.RecordSubmission.Times() != 0 {
					t.Errorf("unexpected RecordSubmission: %+v", job.Calls.RecordSubmission)
				}
			} else {
				if job.Calls.RecordSubmission.Times() != 1 {
					t.Fatalf("RecordSubmission: called %d times", job.Calls.RecordSubmission.Times())
				}
				actual := job.Calls.RecordSubmission[0]
				if actual.JobId != when.Job.Id || actual.ExternalRef != then.RecordsRef {
					t.Errorf("unexpected RecordSubmission: %+v", actual)
				}
			}

			if then.Failure == nil {
				if job.Calls.SetFailure.Times() != 0 {
					t.Errorf("unexpected SetFailure: %+v", job.Calls.SetFailure)
				}
			} else {
				if job.Calls.SetFailure.Times() != 1 {
					t.Fatalf("SetFailure: called %d times", job.Calls.SetFailure.Times())
				}
				actual := job.Calls.SetFailure[0]
				if actual.Stage != then.Failure.Stage || actual.Reason != then.Failure.Reason {
					t.Errorf("unexpected SetFailure: %+v", actual)
				}
			}

			if then.ModelLocation == "" {
				if job.Calls.SetModelLocation.Times() != 0 {
					t.Errorf("unexpected SetModelLocation: %+v", job.Calls.SetModelLocation)
				}
			} else {
				if job.Calls.SetModelLocation.Times() != 1 {
					t.Fatalf("SetModelLocation: called %d times", job.Calls.SetModelLocation.Times())
				}
				if actual := job.Calls.SetModelLocation[0]; actual.Location != then.ModelLocation {
					t.Errorf("unexpected SetModelLocation: %+v", actual)
				}
			}

			audited := audit.Calls.Append.Times() != 0
			if audited != then.Audited {
				t.Errorf("audit events appended: %d", audit.Calls.Append.Times())
			}
			if then.Audited {
				event := audit.Calls.Append[0]
				if event.Action != "job.transition" || event.Outcome != domain.OutcomeApplied {
					t.Errorf("unexpected audit event: %+v", event)
				}
			}

			notified := notifier.Calls.Notify.Times() != 0
			if notified != then.Notified {
				t.Errorf("notifications sent: %d", notifier.Calls.Notify.Times())
			}
		}
	}

	t.Run("a queued training job is submitted and starts running", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Queued,
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
			}},
			SubmitRef: "ext-ref-1",
		},
		Then{
			Status: domain.Running,
			Submitted: &extsvc.Submission{
				TenantId:      "tenant-a",
				JobId:         "job-1",
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
			},
			RecordsRef: "ext-ref-1",
			Audited:    true,
		},
	))

	t.Run("a queued job with cancel requested fails before submission", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Queued,
				CancelRequested: true,
			}},
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageCancel, Reason: "cancelled before submission"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("a pushed completion signal finishes training without polling", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
			}},
			SignalOutcome: &domain.CompletionOutcome{
				Succeeded:      true,
				ResultLocation: "s3://tenant-a/models/m1",
			},
		},
		Then{
			Status:        domain.TrainSucceeded,
			ModelLocation: "s3://tenant-a/models/m1",
			Audited:       true,
		},
	))

	t.Run("a running job with no outcome yet stays running", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				UpdatedAt:   time.Now(),
			}},
			PollReport: extsvc.Report{Done: false},
		},
		Then{Status: domain.Running},
	))

	t.Run("a polled success finishes training", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				UpdatedAt:   time.Now(),
			}},
			PollReport: extsvc.Report{
				Done: true,
				Outcome: domain.CompletionOutcome{
					Succeeded:      true,
					ResultLocation: "s3://tenant-a/models/m1",
				},
			},
		},
		Then{
			Status:        domain.TrainSucceeded,
			ModelLocation: "s3://tenant-a/models/m1",
			Audited:       true,
		},
	))

	t.Run("a labeling job goes terminal directly on success", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.LabelingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				UpdatedAt:   time.Now(),
			}},
			PollReport: extsvc.Report{
				Done:    true,
				Outcome: domain.CompletionOutcome{Succeeded: true},
			},
		},
		Then{Status: domain.Published, Audited: true},
	))

	t.Run("a transient failure under the attempt cap is resubmitted", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef:   "ext-ref-1",
				Attempts:      1,
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
				UpdatedAt:     time.Now(),
			}},
			PollReport: extsvc.Report{
				Done: true,
				Outcome: domain.CompletionOutcome{
					Succeeded: false, Reason: "spot capacity", Transient: true,
				},
			},
			SubmitRef: "ext-ref-2",
		},
		Then{
			Status: domain.Running,
			Submitted: &extsvc.Submission{
				TenantId:      "tenant-a",
				JobId:         "job-1",
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
			},
			RecordsRef: "ext-ref-2",
		},
	))

	t.Run("a transient failure at the attempt cap goes terminal", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				Attempts:    3,
				UpdatedAt:   time.Now(),
			}},
			PollReport: extsvc.Report{
				Done: true,
				Outcome: domain.CompletionOutcome{
					Succeeded: false, Reason: "spot capacity", Transient: true,
				},
			},
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageTrain, Reason: "spot capacity"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("a non-transient failure goes terminal at once", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				UpdatedAt:   time.Now(),
			}},
			PollReport: extsvc.Report{
				Done: true,
				Outcome: domain.CompletionOutcome{
					Succeeded: false, Reason: "bad dataset", Transient: false,
				},
			},
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageTrain, Reason: "bad dataset"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("cancel is honored at the stage boundary even on success", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef:     "ext-ref-1",
				CancelRequested: true,
				UpdatedAt:       time.Now(),
			}},
			PollReport: extsvc.Report{
				Done:    true,
				Outcome: domain.CompletionOutcome{Succeeded: true},
			},
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageCancel, Reason: "cancel requested"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("a job waiting too long for its outcome times out", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef: "ext-ref-1",
				UpdatedAt:   time.Now().Add(-2 * time.Hour),
			}},
			PollReport: extsvc.Report{Done: false},
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageTimeout, Reason: "no outcome in 1h0m0s"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("a job of a deleted tenant fails", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Queued,
			}},
			TenantGone: true,
		},
		Then{
			Status: domain.Failed,
			Failure: &struct {
				Stage  string
				Reason string
			}{Stage: domain.StageTrain, Reason: "tenant is gone"},
			Audited:  true,
			Notified: true,
		},
	))

	t.Run("a running job with no external reference is submitted again", theory(
		When{
			Job: domain.Job{JobBody: domain.JobBody{
				Id: "job-1", TenantId: "tenant-a",
				Kind: domain.TrainingJob, Status: domain.Running,
				ExternalRef:   "",
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
				UpdatedAt:     time.Now(),
			}},
			SubmitRef: "ext-ref-2",
		},
		Then{
			Status: domain.Running,
			Submitted: &extsvc.Submission{
				TenantId:      "tenant-a",
				JobId:         "job-1",
				InputLocation: "s3://tenant-a/datasets/d1",
				ComponentName: "detector",
			},
			RecordsRef: "ext-ref-2",
		},
	))
}
