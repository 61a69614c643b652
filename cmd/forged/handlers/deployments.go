package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apideployments "github.com/fleetforge/fleetforge/pkg/api/types/deployments"
	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kcomponent "github.com/fleetforge/fleetforge/pkg/domain/component/db"
	kdeployment "github.com/fleetforge/fleetforge/pkg/domain/deployment/db"
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	kstrings "github.com/fleetforge/fleetforge/pkg/utils/strings"
)

func CreateDeploymentHandler(
	dbDeployment kdeployment.DeploymentInterface,
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		var spec apideployments.CreateSpec
		if err := c.Bind(&spec); err != nil {
			return apierr.BadRequest("request body should be a deployment creation", err)
		}
		strategy, err := domain.AsDeployStrategy(spec.Strategy)
		if err != nil {
			return apierr.BadRequest(
				`"strategy" should be one of "all-at-once", "canary" or "percentage"`, err,
			)
		}
		if spec.ComponentName == "" || spec.ComponentVersion <= 0 || len(spec.Targets) == 0 {
			return apierr.BadRequest(
				`"componentName", "componentVersion" and "targets" are required`, nil,
			)
		}

		principal, _, err := authorize(
			c, guard, tenantId, auth.ActionCreateDeployment, "deployment/"+spec.ComponentName,
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
			return apierr.Conflict("tenant does not accept new deployments")
		}

		deploymentId, err := dbDeployment.New(ctx, domain.DeploymentSpec{
			TenantId:         tenantId,
			ComponentName:    spec.ComponentName,
			ComponentVersion: spec.ComponentVersion,
			Strategy:         strategy,
			Targets:          spec.Targets,
			CreatedBy:        principal.Subject,
		})
		if errors.Is(err, domain.ErrAlreadyDeployed) {
			return apierr.Conflict(
				"component version is already running on all targets", apierr.WithError(err),
			)
		}
		if errors.Is(err, kerr.ErrMissing) {
			return apierr.BadRequest("component version is not published", err)
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		deployments, err := dbDeployment.Get(ctx, []string{deploymentId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusCreated, apideployments.ComposeDetail(deployments[deploymentId]))
	}
}

func FindDeploymentHandler(
	dbDeployment kdeployment.DeploymentInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		query := domain.DeploymentFindQuery{
			TenantId: []string{tenantId},
			Status:   []domain.DeploymentStatus{},
		}
		for _, p := range kstrings.SplitIfNotEmpty(c.QueryParam("status"), ",") {
			s, err := domain.AsDeploymentStatus(p)
			if err != nil {
				return apierr.BadRequest(
					`"status" should be a comma-separated list of deployment statuses`, err,
				)
			}
			query.Status = append(query.Status, s)
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadDeployment, "deployment",
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		ids, err := dbDeployment.Find(ctx, query)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		deployments, err := dbDeployment.Get(ctx, ids)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apideployments.Detail, 0, len(deployments))
		for _, id := range ids {
			if d, ok := deployments[id]; ok {
				resp = append(resp, apideployments.ComposeDetail(d))
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func GetDeploymentHandler(
	dbDeployment kdeployment.DeploymentInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")
		deploymentId := c.Param("deploymentId")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadDeployment, "deployment/"+deploymentId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		deployments, err := dbDeployment.Get(ctx, []string{deploymentId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		deployment, ok := deployments[deploymentId]
		if !ok || deployment.TenantId != tenantId {
			return apierr.NotFound()
		}
		return c.JSON(http.StatusOK, apideployments.ComposeDetail(deployment))
	}
}

// RollbackDeploymentHandler creates a new deployment targeting the newest
// component version older than the one the original deployed. The original is
// never mutated beyond its status; the rollback is a first-class deployment
// with its own audit trail.
func RollbackDeploymentHandler(
	dbDeployment kdeployment.DeploymentInterface,
	dbComponent kcomponent.ComponentInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")
		deploymentId := c.Param("deploymentId")

		principal, _, err := authorize(
			c, guard, tenantId, auth.ActionRollbackDeployment, "deployment/"+deploymentId,
		)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		deployments, err := dbDeployment.Get(ctx, []string{deploymentId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		original, ok := deployments[deploymentId]
		if !ok || original.TenantId != tenantId {
			return apierr.NotFound()
		}

		previous, err := dbComponent.PreviousOf(
			ctx, tenantId, original.ComponentName, original.ComponentVersion,
		)
		if errors.Is(err, kerr.ErrMissing) {
			return apierr.Conflict("no older component version to roll back to", apierr.WithError(err))
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		// rollback favors speed over caution: the previous version already
		// proved itself on these devices.
		rollbackId, err := dbDeployment.New(ctx, domain.DeploymentSpec{
			TenantId:         tenantId,
			ComponentName:    previous.Name,
			ComponentVersion: previous.Version,
			Strategy:         domain.AllAtOnce,
			Targets:          original.Targets,
			RollbackOf:       original.Id,
			CreatedBy:        principal.Subject,
		})
		if errors.Is(err, domain.ErrAlreadyDeployed) {
			return apierr.Conflict(
				"previous version is already running on all targets", apierr.WithError(err),
			)
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		if original.Status == domain.DeployInProgress {
			if err := dbDeployment.SetStatus(
				ctx, original.Id, domain.DeployRolledBack,
			); err != nil && !errors.Is(err, domain.ErrInvalidDeploymentStateChanging) {
				return apierr.InternalServerError(err)
			}
		}

		rollbacks, err := dbDeployment.Get(ctx, []string{rollbackId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusCreated, apideployments.ComposeDetail(rollbacks[rollbackId]))
	}
}

// ResolveHaltHandler takes the operator decision for a halted deployment:
// resume lets the rollout continue, fail closes it.
func ResolveHaltHandler(
	dbDeployment kdeployment.DeploymentInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")
		deploymentId := c.Param("deploymentId")

		var decision apideployments.HaltDecision
		if err := c.Bind(&decision); err != nil {
			return apierr.BadRequest("request body should be a halt decision", err)
		}
		if decision.Action != apideployments.HaltActionResume &&
			decision.Action != apideployments.HaltActionFail {
			return apierr.BadRequest(`"action" should be "resume" or "fail"`, nil)
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionResolveHalt, "deployment/"+deploymentId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		deployments, err := dbDeployment.Get(ctx, []string{deploymentId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		deployment, ok := deployments[deploymentId]
		if !ok || deployment.TenantId != tenantId {
			return apierr.NotFound()
		}
		if !deployment.Halted || deployment.Status != domain.DeployInProgress {
			return apierr.Conflict("deployment is not halted")
		}

		switch decision.Action {
		case apideployments.HaltActionResume:
			if err := dbDeployment.SetHalted(ctx, deploymentId, false); err != nil {
				return apierr.InternalServerError(err)
			}
		case apideployments.HaltActionFail:
			if err := dbDeployment.SetStatus(ctx, deploymentId, domain.DeployFailed); err != nil {
				return apierr.InternalServerError(err)
			}
		}

		deployments, err = dbDeployment.Get(ctx, []string{deploymentId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apideployments.ComposeDetail(deployments[deploymentId]))
	}
}
