package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	apijobs "github.com/fleetforge/fleetforge/pkg/api/types/jobs"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kjob "github.com/fleetforge/fleetforge/pkg/domain/job/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	kstrings "github.com/fleetforge/fleetforge/pkg/utils/strings"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
)

func CreateJobHandler(
	dbJob kjob.JobInterface,
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		idempotencyKey := c.Request().Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			return apierr.BadRequest(`"Idempotency-Key" header is required`, nil)
		}

		var spec apijobs.CreateSpec
		if err := c.Bind(&spec); err != nil {
			return apierr.BadRequest("request body should be a job creation", err)
		}
		kind := domain.TrainingJob
		if spec.Kind != "" {
			k, err := domain.AsJobKind(spec.Kind)
			if err != nil {
				return apierr.BadRequest(`"kind" should be "training" or "labeling"`, err)
			}
			kind = k
		}
		if spec.InputLocation == "" || spec.ComponentName == "" {
			return apierr.BadRequest(`"inputLocation" and "componentName" are required`, nil)
		}

		principal, _, err := authorize(
			c, guard, tenantId, auth.ActionCreateJob, "job/"+spec.ComponentName,
		)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		tenants, err := dbTenant.Get(ctx, []string{tenantId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		tenant, ok := tenants[tenantId]
		if !ok {
			return apierr.NotFound()
		}
		if tenant.Lifecycle != domain.TenantActive {
			return apierr.Conflict("tenant does not accept new jobs")
		}

		jobId, created, err := dbJob.New(ctx, domain.JobSpec{
			TenantId:       tenantId,
			Kind:           kind,
			IdempotencyKey: idempotencyKey,
			CreatedBy:      principal.Subject,
			InputLocation:  spec.InputLocation,
			ComponentName:  spec.ComponentName,
		})
		if err != nil {
			return apierr.InternalServerError(err)
		}

		jobs, err := dbJob.Get(ctx, []string{jobId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		job, ok := jobs[jobId]
		if !ok {
			return apierr.InternalServerError(errors.New("created job not found"))
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return c.JSON(status, apijobs.ComposeDetail(job))
	}
}

func FindJobHandler(
	dbJob kjob.JobInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		query, err := func(c echo.Context) (domain.JobFindQuery, error) {
			result := domain.JobFindQuery{
				TenantId: []string{tenantId},
				Status:   []domain.JobStatus{},
				Kind:     []domain.JobKind{},
			}

			for _, p := range kstrings.SplitIfNotEmpty(c.QueryParam("status"), ",") {
				s, err := domain.AsJobStatus(p)
				if err != nil {
					return domain.JobFindQuery{}, apierr.BadRequest(
						`"status" should be a comma-separated list of job statuses`, err,
					)
				}
				result.Status = append(result.Status, s)
			}

			for _, p := range kstrings.SplitIfNotEmpty(c.QueryParam("kind"), ",") {
				k, err := domain.AsJobKind(p)
				if err != nil {
					return domain.JobFindQuery{}, apierr.BadRequest(
						`"kind" should be a comma-separated list of job kinds`, err,
					)
				}
				result.Kind = append(result.Kind, k)
			}

			if since := c.QueryParam("since"); since != "" {
				t, err := rfctime.ParseRFC3339DateTime(since)
				if err != nil {
					return domain.JobFindQuery{}, apierr.BadRequest(
						`"since" should be a RFC3339 date-time format`, err,
					)
				}
				_t := t.Time()
				result.UpdatedSince = &_t
			}

			if duration := c.QueryParam("duration"); duration != "" {
				if result.UpdatedSince == nil {
					return domain.JobFindQuery{}, apierr.BadRequest(
						`"duration" requires "since"`, nil,
					)
				}
				d, err := time.ParseDuration(duration)
				if err != nil {
					return domain.JobFindQuery{}, apierr.BadRequest(
						`"duration" should be a Go duration format`, err,
					)
				}
				_t := result.UpdatedSince.Add(d)
				result.UpdatedUntil = &_t
			}

			return result, nil
		}(c)
		if err != nil {
			return err
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadJob, "job",
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		jobIds, err := dbJob.Find(ctx, query)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		jobs, err := dbJob.Get(ctx, jobIds)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apijobs.Detail, 0, len(jobs))
		for _, id := range jobIds {
			if j, ok := jobs[id]; ok {
				resp = append(resp, apijobs.ComposeDetail(j))
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func GetJobHandler(
	dbJob kjob.JobInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")
		jobId := c.Param("jobId")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadJob, "job/"+jobId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		jobs, err := dbJob.Get(ctx, []string{jobId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		job, ok := jobs[jobId]
		if !ok || job.TenantId != tenantId {
			return apierr.NotFound()
		}
		return c.JSON(http.StatusOK, apijobs.ComposeDetail(job))
	}
}

// CancelJobHandler marks a job cancel-requested. The orchestrator honors the
// mark at the next stage boundary; nothing in flight is interrupted here.
func CancelJobHandler(
	dbJob kjob.JobInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")
		jobId := c.Param("jobId")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionCancelJob, "job/"+jobId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		jobs, err := dbJob.Get(ctx, []string{jobId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		job, ok := jobs[jobId]
		if !ok || job.TenantId != tenantId {
			return apierr.NotFound()
		}

		err = dbJob.RequestCancel(ctx, jobId)
		if errors.Is(err, domain.ErrInvalidJobStateChanging) {
			return apierr.Conflict("job is already terminal", apierr.WithError(err))
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		jobs, err = dbJob.Get(ctx, []string{jobId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apijobs.ComposeDetail(jobs[jobId]))
	}
}

// JobSignalHandler takes completion pushes from the external job services.
//
// A signal for an unknown reference is dropped with a warning: it may belong
// to a superseded attempt, and polling covers the job either way.
func JobSignalHandler(
	dbJob kjob.JobInterface,
	logger *log.Logger,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		var signal apijobs.Signal
		if err := c.Bind(&signal); err != nil {
			return apierr.BadRequest("request body should be a completion signal", err)
		}
		if signal.ExternalRef == "" {
			return apierr.BadRequest(`"externalRef" is required`, nil)
		}
		ctx := c.Request().Context()

		known, err := dbJob.RecordSignal(ctx, signal.ExternalRef, domain.CompletionOutcome{
			Succeeded:      signal.Succeeded,
			ResultLocation: signal.ResultLocation,
			Reason:         signal.Reason,
			Transient:      signal.Transient,
		})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		if !known {
			logger.Printf("completion signal for unknown reference %s dropped", signal.ExternalRef)
			return c.NoContent(http.StatusAccepted)
		}
		return c.NoContent(http.StatusOK)
	}
}
