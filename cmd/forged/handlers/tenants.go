package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	apitenants "github.com/fleetforge/fleetforge/pkg/api/types/tenants"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/credential"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kgrant "github.com/fleetforge/fleetforge/pkg/domain/grant/db"
	ktenant "github.com/fleetforge/fleetforge/pkg/domain/tenant/db"
	kerr "github.com/fleetforge/fleetforge/pkg/domain/errors"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
)

func RegisterTenantHandler(
	dbTenant ktenant.TenantInterface,
	dbGrant kgrant.GrantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")

		var spec apitenants.RegisterSpec
		if err := c.Bind(&spec); err != nil {
			return apierr.BadRequest("request body should be a tenant registration", err)
		}
		if spec.Name == "" || spec.ExternalId == "" {
			return apierr.BadRequest(`"name" and "externalId" are required`, nil)
		}

		principal, _, err := authorize(
			c, guard, "", auth.ActionRegisterTenant, "tenant/"+spec.Name,
		)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()

		tenantId, err := dbTenant.Register(ctx, domain.TenantSpec{
			Name: spec.Name,
			Environment: domain.Environment{
				AccountId: spec.Environment.AccountId,
				Region:    spec.Environment.Region,
			},
			ExternalId: spec.ExternalId,
			Storage: slices.Map(spec.Storage, func(s apitenants.StorageLocation) domain.StorageLocation {
				return domain.StorageLocation{Kind: s.Kind, URI: s.URI}
			}),
			Owner: principal.Subject,
		})
		if err != nil {
			return apierr.InternalServerError(err)
		}

		// the owner administers their tenant without waiting for a grant.
		if err := dbGrant.Grant(ctx, domain.RoleGrant{
			Subject: principal.Subject, TenantId: tenantId, Role: domain.TenantAdmin,
		}); err != nil {
			return apierr.InternalServerError(err)
		}

		tenants, err := dbTenant.Get(ctx, []string{tenantId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		tenant, ok := tenants[tenantId]
		if !ok {
			return apierr.InternalServerError(errors.New("registered tenant not found"))
		}

		return c.JSON(http.StatusCreated, apitenants.ComposeDetail(tenant))
	}
}

func FindTenantHandler(
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			return apierr.Unauthorized("login required", nil)
		}
		ctx := c.Request().Context()

		ids, err := dbTenant.Find(ctx)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		visible, err := guard.FilterTenants(ctx, principal, ids, auth.ActionReadTenant)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		tenants, err := dbTenant.Get(ctx, visible)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		resp := make([]apitenants.Detail, 0, len(tenants))
		for _, id := range visible {
			if t, ok := tenants[id]; ok {
				resp = append(resp, apitenants.ComposeDetail(t))
			}
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func GetTenantHandler(
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadTenant, "tenant/"+tenantId,
		); err != nil {
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
		return c.JSON(http.StatusOK, apitenants.ComposeDetail(tenant))
	}
}

func UpdateTenantStorageHandler(
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		var storage []apitenants.StorageLocation
		if err := c.Bind(&storage); err != nil {
			return apierr.BadRequest("request body should be a list of storage locations", err)
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionUpdateTenant, "tenant/"+tenantId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		err := dbTenant.UpdateStorage(
			ctx, tenantId,
			slices.Map(storage, func(s apitenants.StorageLocation) domain.StorageLocation {
				return domain.StorageLocation{Kind: s.Kind, URI: s.URI}
			}),
		)
		if errors.Is(err, kerr.ErrMissing) {
			return apierr.NotFound()
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		tenants, err := dbTenant.Get(ctx, []string{tenantId})
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apitenants.ComposeDetail(tenants[tenantId]))
	}
}

func DeleteTenantHandler(
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantId := c.Param("tenantId")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionDeleteTenant, "tenant/"+tenantId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		err := dbTenant.Delete(ctx, tenantId)
		if errors.Is(err, domain.ErrTenantHasDependents) {
			return apierr.Conflict(
				"tenant has non-terminal jobs or deployments", apierr.WithError(err),
			)
		}
		if errors.Is(err, kerr.ErrMissing) {
			return apierr.NotFound()
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// RotateTrustScopeHandler bumps a tenant's trust-scope version. Cached broker
// sessions of the old version are dropped in the same request.
func RotateTrustScopeHandler(
	dbTenant ktenant.TenantInterface,
	guard *auth.Guard,
	broker *credential.Broker,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		var spec apitenants.RotateSpec
		if err := c.Bind(&spec); err != nil {
			return apierr.BadRequest("request body should be a trust-scope rotation", err)
		}
		if spec.NewExternalId == "" {
			return apierr.BadRequest(`"newExternalId" is required`, nil)
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionRotateTrust, "tenant/"+tenantId,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		version, err := dbTenant.RotateTrustScope(ctx, tenantId, spec.NewExternalId)
		if errors.Is(err, kerr.ErrMissing) {
			return apierr.NotFound()
		}
		if err != nil {
			return apierr.InternalServerError(err)
		}

		broker.Invalidate(tenantId)

		return c.JSON(http.StatusOK, apitenants.RotateResult{TrustScopeVersion: version})
	}
}

func GrantRoleHandler(
	dbGrant kgrant.GrantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		var spec apitenants.GrantSpec
		if err := c.Bind(&spec); err != nil {
			return apierr.BadRequest("request body should be a role grant", err)
		}
		role, err := domain.AsRole(spec.Role)
		if err != nil || role == domain.SuperAdmin {
			return apierr.BadRequest(
				`"role" should be one of "tenant-admin", "scientist", "operator" or "viewer"`,
				err,
			)
		}
		if spec.Subject == "" {
			return apierr.BadRequest(`"subject" is required`, nil)
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionGrantRole, "grant/"+spec.Subject,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		grant := domain.RoleGrant{Subject: spec.Subject, TenantId: tenantId, Role: role}
		if err := dbGrant.Grant(ctx, grant); err != nil {
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, apitenants.ComposeGrant(grant))
	}
}

func RevokeRoleHandler(
	dbGrant kgrant.GrantInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantId := c.Param("tenantId")
		subject := c.Param("subject")

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionRevokeRole, "grant/"+subject,
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		if err := dbGrant.Revoke(ctx, subject, tenantId); err != nil {
			return apierr.InternalServerError(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
