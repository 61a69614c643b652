package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apiaudits "github.com/fleetforge/fleetforge/pkg/api/types/audits"
	apierr "github.com/fleetforge/fleetforge/pkg/api/types/errors"
	"github.com/fleetforge/fleetforge/pkg/auth"
	"github.com/fleetforge/fleetforge/pkg/domain"
	kaudit "github.com/fleetforge/fleetforge/pkg/domain/audit/db"
	"github.com/fleetforge/fleetforge/pkg/utils/rfctime"
	"github.com/fleetforge/fleetforge/pkg/utils/slices"
	kstrings "github.com/fleetforge/fleetforge/pkg/utils/strings"
)

func FindAuditHandler(
	dbAudit kaudit.AuditInterface,
	guard *auth.Guard,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Add("Content-Type", "application/json")
		tenantId := c.Param("tenantId")

		query := domain.AuditFindQuery{
			TenantId: []string{tenantId},
			Subject:  kstrings.SplitIfNotEmpty(c.QueryParam("subject"), ","),
			Action:   kstrings.SplitIfNotEmpty(c.QueryParam("action"), ","),
		}
		if since := c.QueryParam("since"); since != "" {
			t, err := rfctime.ParseRFC3339DateTime(since)
			if err != nil {
				return apierr.BadRequest(`"since" should be a RFC3339 date-time format`, err)
			}
			_t := t.Time()
			query.Since = &_t
		}
		if until := c.QueryParam("until"); until != "" {
			t, err := rfctime.ParseRFC3339DateTime(until)
			if err != nil {
				return apierr.BadRequest(`"until" should be a RFC3339 date-time format`, err)
			}
			_t := t.Time()
			query.Until = &_t
		}

		if _, _, err := authorize(
			c, guard, tenantId, auth.ActionReadAudit, "audit",
		); err != nil {
			return err
		}
		ctx := c.Request().Context()

		events, err := dbAudit.Find(ctx, query)
		if err != nil {
			return apierr.InternalServerError(err)
		}

		return c.JSON(http.StatusOK, slices.Map(events, apiaudits.ComposeEvent))
	}
}
