package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/cmd/forged/handlers"
	httptestutil "github.com/fleetforge/fleetforge/internal/testutils/http"
	apijobs "github.com/fleetforge/fleetforge/pkg/api/types/jobs"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
	mockaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db/mock"
	mockgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db/mock"
	mockjob "github.com/fleetforge/fleetforge/pkg/domain/job/db/mock"
	mocktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db/mock"
)

// a guard allowing scientist on tenant-a, auditing into the mock.
func scientistGuard() (*auth.Guard, *mockaudit.AuditInterface) {
	grants := mockgrant.NewGrantInterface()
	grants.Impl.RoleOn = func(ctx context.Context, subject string, tenantId string) (domain.Role, bool, error) {
		if tenantId == "tenant-a" {
			return domain.Scientist, true, nil
		}
		return "", false, nil
	}
	audit := mockaudit.NewAuditInterface()
	audit.Impl.Append = func(ctx context.Context, event domain.AuditEvent) (int64, error) {
		return 100, nil
	}
	return auth.NewGuard(grants, audit), audit
}

func alice(c echo.Context) {
	auth.SetPrincipal(c, domain.Principal{
		Subject: "alice@example", GlobalRole: domain.Viewer,
	})
}

func activeTenant() *mocktenant.TenantInterface {
	tenant := mocktenant.NewTenantInterface()
	tenant.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
		return map[string]domain.Tenant{
			"tenant-a": {Id: "tenant-a", Lifecycle: domain.TenantActive},
		}, nil
	}
	return tenant
}

func TestCreateJobHandler(t *testing.T) {

	payload := `{"kind":"training","inputLocation":"s3://tenant-a/datasets/d1","componentName":"detector"}`

	queuedJob := func(created bool) *mockjob.JobInterface {
		job := mockjob.NewJobInterface()
		job.Impl.New = func(ctx context.Context, spec domain.JobSpec) (string, bool, error) {
			return "job-1", created, nil
		}
		job.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Job, error) {
			return map[string]domain.Job{
				"job-1": {JobBody: domain.JobBody{
					Id: "job-1", TenantId: "tenant-a",
					Kind: domain.TrainingJob, Status: domain.Queued,
					IdempotencyKey: "key-1",
					CreatedBy:      "alice@example",
					InputLocation:  "s3://tenant-a/datasets/d1",
					ComponentName:  "detector",
				}},
			}, nil
		}
		return job
	}

	t.Run("a new job is created as queued", func(t *testing.T) {
		e := echo.New()
		job := queuedJob(true)
		guard, audit := scientistGuard()

		testee := handlers.CreateJobHandler(job, activeTenant(), guard)

		c, respRec := httptestutil.Post(
			e, "/api/tenants/tenant-a/jobs/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
			httptestutil.WithHeader("Idempotency-Key", "key-1"),
		)
		c.SetPath("/api/tenants/:tenantId/jobs/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusCreated {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		var detail apijobs.Detail
		if err := json.Unmarshal(respRec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("response is not a job detail: %+v", err)
		}
		if detail.JobId != "job-1" || detail.Status != "queued" {
			t.Errorf("unexpected detail: %+v", detail)
		}

		if job.Calls.New.Times() != 1 {
			t.Fatalf("New: called %d times", job.Calls.New.Times())
		}
		spec := job.Calls.New[0]
		if spec.IdempotencyKey != "key-1" || spec.CreatedBy != "alice@example" {
			t.Errorf("unexpected spec: %+v", spec)
		}

		if audit.Calls.Append.Times() != 1 {
			t.Errorf("audit events appended: %d", audit.Calls.Append.Times())
		}
	})

	t.Run("a retried create with the same key returns the same job", func(t *testing.T) {
		e := echo.New()
		job := queuedJob(false)
		guard, _ := scientistGuard()

		testee := handlers.CreateJobHandler(job, activeTenant(), guard)

		c, respRec := httptestutil.Post(
			e, "/api/tenants/tenant-a/jobs/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
			httptestutil.WithHeader("Idempotency-Key", "key-1"),
		)
		c.SetPath("/api/tenants/:tenantId/jobs/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusOK {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		var detail apijobs.Detail
		if err := json.Unmarshal(respRec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("response is not a job detail: %+v", err)
		}
		if detail.JobId != "job-1" {
			t.Errorf("unexpected detail: %+v", detail)
		}
	})

	t.Run("a create without an idempotency key is rejected", func(t *testing.T) {
		e := echo.New()
		guard, _ := scientistGuard()

		testee := handlers.CreateJobHandler(mockjob.NewJobInterface(), activeTenant(), guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/jobs/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
		)
		c.SetPath("/api/tenants/:tenantId/jobs/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusBadRequest {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})

	t.Run("a create on a tenant the caller has no grant on is forbidden", func(t *testing.T) {
		e := echo.New()
		guard, audit := scientistGuard()

		testee := handlers.CreateJobHandler(mockjob.NewJobInterface(), activeTenant(), guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-b/jobs/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
			httptestutil.WithHeader("Idempotency-Key", "key-1"),
		)
		c.SetPath("/api/tenants/:tenantId/jobs/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-b")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusForbidden {
			t.Errorf("unexpected status code: %d", herr.Code)
		}

		// the denial itself is audited.
		if audit.Calls.Append.Times() != 1 {
			t.Errorf("audit events appended: %d", audit.Calls.Append.Times())
		}
	})

	t.Run("a create on an inactive tenant conflicts", func(t *testing.T) {
		e := echo.New()
		guard, _ := scientistGuard()

		tenant := mocktenant.NewTenantInterface()
		tenant.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Tenant, error) {
			return map[string]domain.Tenant{
				"tenant-a": {Id: "tenant-a", Lifecycle: domain.TenantDeletionBlocked},
			}, nil
		}

		testee := handlers.CreateJobHandler(mockjob.NewJobInterface(), tenant, guard)

		c, _ := httptestutil.Post(
			e, "/api/tenants/tenant-a/jobs/", strings.NewReader(payload),
			httptestutil.ContentType("application/json"),
			httptestutil.WithHeader("Idempotency-Key", "key-1"),
		)
		c.SetPath("/api/tenants/:tenantId/jobs/")
		c.SetParamNames("tenantId")
		c.SetParamValues("tenant-a")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusConflict {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}

func TestGetJobHandler(t *testing.T) {
	t.Run("a job of another tenant is not found", func(t *testing.T) {
		e := echo.New()
		guard, _ := scientistGuard()

		job := mockjob.NewJobInterface()
		job.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Job, error) {
			return map[string]domain.Job{
				"job-1": {JobBody: domain.JobBody{
					Id: "job-1", TenantId: "tenant-b",
					Kind: domain.TrainingJob, Status: domain.Queued,
				}},
			}, nil
		}

		testee := handlers.GetJobHandler(job, guard)

		c, _ := httptestutil.Get(e, "/api/tenants/tenant-a/jobs/job-1/")
		c.SetPath("/api/tenants/:tenantId/jobs/:jobId/")
		c.SetParamNames("tenantId", "jobId")
		c.SetParamValues("tenant-a", "job-1")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusNotFound {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}

func TestCancelJobHandler(t *testing.T) {
	t.Run("cancelling a terminal job conflicts", func(t *testing.T) {
		e := echo.New()
		guard, _ := scientistGuard()

		job := mockjob.NewJobInterface()
		job.Impl.Get = func(ctx context.Context, ids []string) (map[string]domain.Job, error) {
			return map[string]domain.Job{
				"job-1": {JobBody: domain.JobBody{
					Id: "job-1", TenantId: "tenant-a",
					Kind: domain.TrainingJob, Status: domain.Published,
				}},
			}, nil
		}
		job.Impl.RequestCancel = func(ctx context.Context, jobId string) error {
			return domain.NewErrInvalidJobStateChanging(domain.Published, domain.Failed)
		}

		testee := handlers.CancelJobHandler(job, guard)

		c, _ := httptestutil.Put(e, "/api/tenants/tenant-a/jobs/job-1/cancel/", nil)
		c.SetPath("/api/tenants/:tenantId/jobs/:jobId/cancel/")
		c.SetParamNames("tenantId", "jobId")
		c.SetParamValues("tenant-a", "job-1")
		alice(c)

		err := testee(c)
		herr := new(echo.HTTPError)
		if !errors.As(err, &herr) {
			t.Fatalf("error is not echo.HTTPError: %+v", err)
		}
		if herr.Code != http.StatusConflict {
			t.Errorf("unexpected status code: %d", herr.Code)
		}
	})
}

func TestJobSignalHandler(t *testing.T) {

	signal := `{"externalRef":"ext-ref-1","succeeded":true,"resultLocation":"s3://tenant-a/models/m1"}`

	t.Run("a known reference is recorded", func(t *testing.T) {
		e := echo.New()

		job := mockjob.NewJobInterface()
		job.Impl.RecordSignal = func(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (bool, error) {
			return true, nil
		}

		testee := handlers.JobSignalHandler(job, log.New(io.Discard, "", 0))

		c, respRec := httptestutil.Post(
			e, "/api/signals/jobs/", strings.NewReader(signal),
			httptestutil.ContentType("application/json"),
		)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusOK {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}

		if job.Calls.RecordSignal.Times() != 1 {
			t.Fatalf("RecordSignal: called %d times", job.Calls.RecordSignal.Times())
		}
		recorded := job.Calls.RecordSignal[0]
		if recorded.ExternalRef != "ext-ref-1" || !recorded.Outcome.Succeeded {
			t.Errorf("unexpected signal: %+v", recorded)
		}
	})

	t.Run("an unknown reference is dropped, not erred", func(t *testing.T) {
		e := echo.New()

		job := mockjob.NewJobInterface()
		job.Impl.RecordSignal = func(ctx context.Context, externalRef string, outcome domain.CompletionOutcome) (bool, error) {
			return false, nil
		}

		testee := handlers.JobSignalHandler(job, log.New(io.Discard, "", 0))

		c, respRec := httptestutil.Post(
			e, "/api/signals/jobs/", strings.NewReader(signal),
			httptestutil.ContentType("application/json"),
		)

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if respRec.Code != http.StatusAccepted {
			t.Errorf("unexpected status code: %d", respRec.Code)
		}
	})
}
